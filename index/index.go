// Package index provides persistent top-k inner-product search over
// unit vectors. Two backends are available: sqlite-vec (ANN via a vec0
// virtual table) and flat (brute-force matrix product). The sidecar
// metadata file carries the backend tag so loaders select the correct
// reader.
package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

// Meta is the sidecar metadata persisted next to the index payload.
type Meta struct {
	Dim     int    `json:"dim"`
	Metric  string `json:"metric"`
	Backend string `json:"backend"`
	Count   int    `json:"count"`
}

// Index is a persistent vector index bound to one path and dimension.
type Index interface {
	// Build replaces the in-memory state with the given vectors and
	// aligned ids. Call Save to persist and Load before Search.
	Build(vectors [][]float32, ids []string) error

	// Save writes the payload plus the .meta.json and .ids.txt sidecars.
	Save() error

	// Load reads the persisted index. Metadata disagreement fails with
	// ErrStorageCorrupt, which forces a rebuild upstream.
	Load() error

	// Exists reports whether both payload and metadata are present.
	Exists() bool

	// Search returns the top-k ids and scores per query row, scores
	// non-increasing. k is clamped to the index count.
	Search(queries [][]float32, k int) (scores [][]float32, ids [][]string, err error)

	// Count returns the number of indexed vectors.
	Count() int

	Close() error
}

// New creates an index handle for the given payload path, dimension,
// and backend name ("sqlite-vec" or "flat").
func New(path string, dim int, backend string) (Index, error) {
	switch backend {
	case "sqlite-vec", "":
		return newSQLiteVec(path, dim), nil
	case "flat":
		return newFlat(path, dim), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", backend)
	}
}

// Open creates a handle whose backend is selected from the persisted
// metadata, falling back to the given default when no index exists yet.
func Open(path string, dim int, defaultBackend string) (Index, error) {
	meta, err := readMeta(metaPath(path))
	if err == nil {
		return New(path, dim, meta.Backend)
	}
	return New(path, dim, defaultBackend)
}

func metaPath(path string) string { return path + ".meta.json" }
func idsPath(path string) string  { return path + ".ids.txt" }

func writeMeta(path string, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readMeta(path string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: bad metadata: %v", mobilerag.ErrStorageCorrupt, err)
	}
	return m, nil
}

func writeIDs(path string, ids []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, id := range ids {
		w.WriteString(id)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// checkMeta validates the persisted metadata against the handle.
func checkMeta(m Meta, dim int, backend string) error {
	if m.Dim != dim {
		return fmt.Errorf("%w: index dim %d, expected %d", mobilerag.ErrStorageCorrupt, m.Dim, dim)
	}
	if m.Backend != backend {
		return fmt.Errorf("%w: index backend %q, expected %q", mobilerag.ErrStorageCorrupt, m.Backend, backend)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
