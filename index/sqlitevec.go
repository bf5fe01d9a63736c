package index

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

func init() {
	sqlite_vec.Auto()
}

// sqliteVec is the ANN backend: vectors live in a vec0 virtual table
// inside a SQLite payload file, with row order aligned to the ids.txt
// sidecar. Cosine distance on unit vectors; scores are 1 - distance.
type sqliteVec struct {
	path    string
	dim     int
	vectors [][]float32
	ids     []string
	db      *sql.DB
	count   int
}

func newSQLiteVec(path string, dim int) *sqliteVec {
	return &sqliteVec{path: path, dim: dim}
}

func (s *sqliteVec) Build(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vector/id length mismatch: %d vs %d", len(vectors), len(ids))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has dim %d, want %d", i, len(v), s.dim)
		}
	}
	s.vectors = vectors
	s.ids = ids
	s.count = len(vectors)
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

func (s *sqliteVec) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	// Rebuild the payload from scratch so rowids stay aligned with
	// ids.txt. Stale WAL sidecars must go with it.
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	create := fmt.Sprintf(
		"CREATE VIRTUAL TABLE vec_index USING vec0(embedding float[%d] distance_metric=cosine)", s.dim)
	if _, err := db.Exec(create); err != nil {
		db.Close()
		return fmt.Errorf("creating vec0 table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO vec_index (rowid, embedding) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		db.Close()
		return err
	}
	for i, v := range s.vectors {
		if _, err := stmt.Exec(int64(i+1), serializeFloat32(v)); err != nil {
			stmt.Close()
			tx.Rollback()
			db.Close()
			return fmt.Errorf("inserting vector %d: %w", i, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}

	if err := writeIDs(idsPath(s.path), s.ids); err != nil {
		return err
	}
	return writeMeta(metaPath(s.path), Meta{
		Dim:     s.dim,
		Metric:  "ip",
		Backend: "sqlite-vec",
		Count:   len(s.vectors),
	})
}

func (s *sqliteVec) Load() error {
	meta, err := readMeta(metaPath(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: missing metadata", mobilerag.ErrStorageCorrupt)
		}
		return err
	}
	if err := checkMeta(meta, s.dim, "sqlite-vec"); err != nil {
		return err
	}

	ids, err := readIDs(idsPath(s.path))
	if err != nil {
		return fmt.Errorf("%w: missing ids: %v", mobilerag.ErrStorageCorrupt, err)
	}
	if len(ids) != meta.Count {
		return fmt.Errorf("%w: ids/count disagreement: %d vs %d", mobilerag.ErrStorageCorrupt, len(ids), meta.Count)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}
	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM vec_index").Scan(&rows); err != nil {
		db.Close()
		return fmt.Errorf("%w: unreadable payload: %v", mobilerag.ErrStorageCorrupt, err)
	}
	if rows != meta.Count {
		db.Close()
		return fmt.Errorf("%w: payload/metadata disagreement: %d vs %d", mobilerag.ErrStorageCorrupt, rows, meta.Count)
	}

	if s.db != nil {
		s.db.Close()
	}
	s.db = db
	s.ids = ids
	s.count = meta.Count
	return nil
}

func (s *sqliteVec) Exists() bool {
	return fileExists(s.path) && fileExists(metaPath(s.path))
}

func (s *sqliteVec) Count() int { return s.count }

func (s *sqliteVec) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteVec) Search(queries [][]float32, k int) ([][]float32, [][]string, error) {
	if s.db == nil {
		return nil, nil, fmt.Errorf("index not loaded")
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > s.count {
		k = s.count
	}

	scores := make([][]float32, len(queries))
	ids := make([][]string, len(queries))
	for qi, q := range queries {
		if len(q) != s.dim {
			return nil, nil, fmt.Errorf("query %d has dim %d, want %d", qi, len(q), s.dim)
		}
		rows, err := s.db.Query(`
			SELECT rowid, distance FROM vec_index
			WHERE embedding MATCH ? AND k = ?
			ORDER BY distance
		`, serializeFloat32(q), k)
		if err != nil {
			return nil, nil, fmt.Errorf("vec search: %w", err)
		}
		for rows.Next() {
			var rowid int64
			var distance float64
			if err := rows.Scan(&rowid, &distance); err != nil {
				rows.Close()
				return nil, nil, err
			}
			if rowid < 1 || int(rowid) > len(s.ids) {
				continue
			}
			scores[qi] = append(scores[qi], float32(1.0-distance))
			ids[qi] = append(ids[qi], s.ids[rowid-1])
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, err
		}
		rows.Close()
	}
	return scores, ids, nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
