// Package store persists document and chunk records for retrieval.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DocRecord is a row in the docs table.
type DocRecord struct {
	DocID string  `json:"doc_id"`
	Path  string  `json:"path"`
	MTime float64 `json:"mtime"`
	SHA1  string  `json:"sha1"`
	Mime  string  `json:"mime"`
}

// ChunkRecord is a row in the chunks table. ChunkID is
// doc_id + ":" + six-digit zero-padded idx, so lexicographic order on
// chunk_id matches idx order within a document.
type ChunkRecord struct {
	ChunkID string `json:"chunk_id"`
	DocID   string `json:"doc_id"`
	Path    string `json:"path"`
	Idx     int    `json:"idx"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Text    string `json:"text"`
}

// ChunkID formats the stable chunk id for a document and chunk index.
func ChunkID(docID string, idx int) string {
	return fmt.Sprintf("%s:%06d", docID, idx)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS docs (
	doc_id TEXT PRIMARY KEY,
	path   TEXT NOT NULL,
	mtime  REAL NOT NULL,
	sha1   TEXT NOT NULL,
	mime   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id   TEXT NOT NULL REFERENCES docs(doc_id),
	path     TEXT NOT NULL,
	idx      INTEGER NOT NULL,
	start    INTEGER NOT NULL,
	"end"    INTEGER NOT NULL,
	text     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
`

// Store wraps the SQLite database holding docs and chunks.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the chunk store at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDocByPath retrieves a document record by its file path. Returns
// nil (no error) when no record exists.
func (s *Store) GetDocByPath(ctx context.Context, path string) (*DocRecord, error) {
	doc := &DocRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, path, mtime, sha1, mime FROM docs WHERE path = ?
	`, path).Scan(&doc.DocID, &doc.Path, &doc.MTime, &doc.SHA1, &doc.Mime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpsertDoc inserts or updates a document record.
func (s *Store) UpsertDoc(ctx context.Context, doc DocRecord) error {
	_, err := s.db.ExecContext(ctx, upsertDocSQL, doc.DocID, doc.Path, doc.MTime, doc.SHA1, doc.Mime)
	return err
}

const upsertDocSQL = `
	INSERT INTO docs (doc_id, path, mtime, sha1, mime)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(doc_id) DO UPDATE SET
		path = excluded.path,
		mtime = excluded.mtime,
		sha1 = excluded.sha1,
		mime = excluded.mime
`

// UpdateDocMTime updates just the mtime of a document. Used when a file
// was touched but its content hash is unchanged.
func (s *Store) UpdateDocMTime(ctx context.Context, docID string, mtime float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE docs SET mtime = ? WHERE doc_id = ?", mtime, docID)
	return err
}

// DeleteChunksForDoc removes all chunks belonging to a document.
func (s *Store) DeleteChunksForDoc(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID)
	return err
}

// InsertChunks inserts a batch of chunks, replacing on chunk_id conflict.
func (s *Store) InsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertChunksTx(ctx, tx, chunks)
	})
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []ChunkRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (chunk_id, doc_id, path, idx, start, "end", text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocID, c.Path, c.Idx, c.Start, c.End, c.Text); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDocChunks atomically upserts the document record, deletes its
// old chunks, and inserts the new ones.
func (s *Store) ReplaceDocChunks(ctx context.Context, doc DocRecord, chunks []ChunkRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertDocSQL, doc.DocID, doc.Path, doc.MTime, doc.SHA1, doc.Mime); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", doc.DocID); err != nil {
			return err
		}
		return insertChunksTx(ctx, tx, chunks)
	})
}

// GetAllChunks returns every chunk ordered by chunk_id.
func (s *Store) GetAllChunks(ctx context.Context) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, doc_id, path, idx, start, "end", text
		FROM chunks ORDER BY chunk_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Path, &c.Idx, &c.Start, &c.End, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunkTextByIDs resolves chunk ids to records, preserving input
// order. Ids with no record are silently omitted.
func (s *Store) GetChunkTextByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT chunk_id, doc_id, path, idx, start, "end", text FROM chunks WHERE chunk_id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]ChunkRecord, len(ids))
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Path, &c.Idx, &c.Start, &c.End, &c.Text); err != nil {
			return nil, err
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ChunkRecord, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// CountChunks returns the number of chunk rows.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// CountDocs returns the number of document rows.
func (s *Store) CountDocs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM docs").Scan(&n)
	return n, err
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
