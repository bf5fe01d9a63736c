package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

const flatMagic = "MRFLAT1\n"

// flat is the brute-force backend: a gzip-compressed float32 matrix
// searched by full matrix product with per-row partial sort.
type flat struct {
	path    string
	dim     int
	vectors [][]float32
	ids     []string
	loaded  bool
}

func newFlat(path string, dim int) *flat {
	return &flat{path: path, dim: dim}
}

func (f *flat) Build(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vector/id length mismatch: %d vs %d", len(vectors), len(ids))
	}
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d has dim %d, want %d", i, len(v), f.dim)
		}
	}
	f.vectors = vectors
	f.ids = ids
	f.loaded = true
	return nil
}

func (f *flat) Save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	file, err := os.Create(f.path)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(file)

	if _, err := zw.Write([]byte(flatMagic)); err != nil {
		file.Close()
		return err
	}
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(f.dim))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(f.vectors)))
	if _, err := zw.Write(hdr); err != nil {
		file.Close()
		return err
	}
	row := make([]byte, f.dim*4)
	for _, v := range f.vectors {
		for i, x := range v {
			binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(x))
		}
		if _, err := zw.Write(row); err != nil {
			file.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	if err := writeIDs(idsPath(f.path), f.ids); err != nil {
		return err
	}
	return writeMeta(metaPath(f.path), Meta{
		Dim:     f.dim,
		Metric:  "ip",
		Backend: "flat",
		Count:   len(f.vectors),
	})
}

func (f *flat) Load() error {
	meta, err := readMeta(metaPath(f.path))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: missing metadata", mobilerag.ErrStorageCorrupt)
		}
		return err
	}
	if err := checkMeta(meta, f.dim, "flat"); err != nil {
		return err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("%w: missing payload: %v", mobilerag.ErrStorageCorrupt, err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: bad payload: %v", mobilerag.ErrStorageCorrupt, err)
	}
	defer zr.Close()

	magic := make([]byte, len(flatMagic))
	if _, err := io.ReadFull(zr, magic); err != nil || string(magic) != flatMagic {
		return fmt.Errorf("%w: bad payload header", mobilerag.ErrStorageCorrupt)
	}
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(zr, hdr); err != nil {
		return fmt.Errorf("%w: truncated payload", mobilerag.ErrStorageCorrupt)
	}
	dim := int(binary.LittleEndian.Uint32(hdr[0:]))
	count := int(binary.LittleEndian.Uint32(hdr[4:]))
	if dim != f.dim || count != meta.Count {
		return fmt.Errorf("%w: payload/metadata disagreement", mobilerag.ErrStorageCorrupt)
	}

	vectors := make([][]float32, count)
	row := make([]byte, dim*4)
	for i := range vectors {
		if _, err := io.ReadFull(zr, row); err != nil {
			return fmt.Errorf("%w: truncated matrix", mobilerag.ErrStorageCorrupt)
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
		}
		vectors[i] = v
	}

	ids, err := readIDs(idsPath(f.path))
	if err != nil {
		return fmt.Errorf("%w: missing ids: %v", mobilerag.ErrStorageCorrupt, err)
	}
	if len(ids) != count {
		return fmt.Errorf("%w: ids/count disagreement: %d vs %d", mobilerag.ErrStorageCorrupt, len(ids), count)
	}

	f.vectors = vectors
	f.ids = ids
	f.loaded = true
	return nil
}

func (f *flat) Exists() bool {
	return fileExists(f.path) && fileExists(metaPath(f.path))
}

func (f *flat) Count() int { return len(f.vectors) }

func (f *flat) Close() error { return nil }

func (f *flat) Search(queries [][]float32, k int) ([][]float32, [][]string, error) {
	if !f.loaded {
		return nil, nil, fmt.Errorf("index not loaded")
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > len(f.vectors) {
		k = len(f.vectors)
	}

	scores := make([][]float32, len(queries))
	ids := make([][]string, len(queries))
	for qi, q := range queries {
		if len(q) != f.dim {
			return nil, nil, fmt.Errorf("query %d has dim %d, want %d", qi, len(q), f.dim)
		}
		type hit struct {
			score float32
			row   int
		}
		hits := make([]hit, len(f.vectors))
		for i, v := range f.vectors {
			var dot float32
			for j := range v {
				dot += q[j] * v[j]
			}
			hits[i] = hit{score: dot, row: i}
		}
		// Descending by score, ties broken by ascending row index.
		sort.Slice(hits, func(a, b int) bool {
			if hits[a].score != hits[b].score {
				return hits[a].score > hits[b].score
			}
			return hits[a].row < hits[b].row
		})

		scores[qi] = make([]float32, k)
		ids[qi] = make([]string, k)
		for i := 0; i < k; i++ {
			scores[qi][i] = hits[i].score
			ids[qi][i] = f.ids[hits[i].row]
		}
	}
	return scores, ids, nil
}
