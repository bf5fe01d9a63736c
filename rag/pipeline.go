// Package rag implements the incremental index build and query-time
// retrieval pipeline.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mobilerag "github.com/lavandejoey/MobileRAG"
	"github.com/lavandejoey/MobileRAG/chunker"
	"github.com/lavandejoey/MobileRAG/embed"
	"github.com/lavandejoey/MobileRAG/index"
	"github.com/lavandejoey/MobileRAG/parser"
	"github.com/lavandejoey/MobileRAG/rerank"
	"github.com/lavandejoey/MobileRAG/scan"
	"github.com/lavandejoey/MobileRAG/store"
)

// mtimeEpsilon absorbs float rounding when comparing stored and
// scanned modification times.
const mtimeEpsilon = 1e-6

// Snippet is one retrieval result.
type Snippet struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// BuildStats summarizes one build pass.
type BuildStats struct {
	Scanned  int           `json:"scanned"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Chunks   int           `json:"chunks"`
	Rebuilt  bool          `json:"rebuilt"`
	Elapsed  time.Duration `json:"-"`
	ElapsedS float64       `json:"elapsed_s"`
}

// Pipeline owns the retrieval substrate. Rebuilds run under an
// exclusive lock; retrieves share a read lock against the loaded index.
type Pipeline struct {
	cfg      mobilerag.Config
	registry *parser.Registry
	embedder embed.Embedder
	store    *store.Store
	reranker *rerank.Hybrid
	index    index.Index

	mu     sync.RWMutex
	loaded bool
}

// New wires a pipeline from configuration. The chunk store is opened
// immediately; the index is loaded lazily on first use.
func New(cfg mobilerag.Config) (*Pipeline, error) {
	embedder, err := embed.New(cfg.RAG.EmbedderBackend, cfg.RAG.EmbedDim, cfg.RAG.EmbedBaseURL, cfg.RAG.EmbedModel)
	if err != nil {
		return nil, err
	}
	reranker, err := rerank.New("hybrid", cfg.RAG.RerankAlpha)
	if err != nil {
		return nil, err
	}
	st, err := store.New(filepath.Join(cfg.RAG.IndexDir, cfg.RAG.SQLiteFile))
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(filepath.Join(cfg.RAG.IndexDir, cfg.RAG.IndexFile), cfg.RAG.EmbedDim, cfg.RAG.IndexBackend)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		registry: parser.NewRegistry(),
		embedder: embedder,
		store:    st,
		reranker: reranker,
		index:    idx,
	}, nil
}

// Close releases the store and index.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.index.Close()
	if serr := p.store.Close(); err == nil {
		err = serr
	}
	return err
}

// Enabled reports whether retrieval is configured on.
func (p *Pipeline) Enabled() bool { return p.cfg.RAG.Enabled }

// Store exposes the chunk store for diagnostics.
func (p *Pipeline) Store() *store.Store { return p.store }

// BuildOrUpdateIndex scans the corpus and brings the chunk store and
// vector index up to date. It is idempotent: an unchanged corpus
// performs no writes. Per-file errors are logged and skipped.
func (p *Pipeline) BuildOrUpdateIndex(ctx context.Context) (BuildStats, error) {
	if !p.cfg.RAG.Enabled {
		return BuildStats{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	stats := BuildStats{}

	items, err := scan.List(p.cfg.DocsGlobs, scan.Options{
		Exts:          p.cfg.DocsExts,
		MaxFileSizeMB: p.cfg.RAG.MaxFileSizeMB,
	})
	if err != nil {
		return stats, fmt.Errorf("scanning corpus: %w", err)
	}
	stats.Scanned = len(items)

	dirty := false
	for _, item := range items {
		changed, err := p.updateDoc(ctx, item)
		if err != nil {
			slog.Warn("rag: skipping file", "path", item.Path, "error", err)
			stats.Skipped++
			continue
		}
		if changed {
			stats.Updated++
			dirty = true
		}
	}

	if err := p.rebuildIfNeeded(ctx, dirty, &stats); err != nil {
		return stats, err
	}

	stats.Elapsed = time.Since(start)
	stats.ElapsedS = stats.Elapsed.Seconds()
	count, err := p.store.CountChunks(ctx)
	if err == nil {
		stats.Chunks = count
	}
	slog.Info("rag: build pass complete",
		"scanned", stats.Scanned, "updated", stats.Updated,
		"skipped", stats.Skipped, "chunks", stats.Chunks,
		"rebuilt", stats.Rebuilt, "elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// updateDoc reconciles one scanned file against the chunk store.
// Returns true when chunks changed and the index must be rebuilt.
func (p *Pipeline) updateDoc(ctx context.Context, item scan.IngestItem) (bool, error) {
	doc, err := p.store.GetDocByPath(ctx, item.Path)
	if err != nil {
		return false, err
	}
	if doc != nil {
		if math.Abs(doc.MTime-item.MTime) < mtimeEpsilon {
			return false, nil
		}
		if doc.SHA1 == item.SHA1 {
			// Touched but content unchanged.
			return false, p.store.UpdateDocMTime(ctx, doc.DocID, item.MTime)
		}
	}

	res, err := p.registry.Parse(ctx, item.Path)
	if err != nil {
		return false, err
	}
	spans, err := chunker.Chunk(res.Text, p.cfg.RAG.ChunkSize, p.cfg.RAG.ChunkOverlap)
	if err != nil {
		return false, err
	}

	chunks := make([]store.ChunkRecord, len(spans))
	for i, sp := range spans {
		chunks[i] = store.ChunkRecord{
			ChunkID: store.ChunkID(item.DocID, i),
			DocID:   item.DocID,
			Path:    item.Path,
			Idx:     i,
			Start:   sp.Start,
			End:     sp.End,
			Text:    sp.Text,
		}
	}
	err = p.store.ReplaceDocChunks(ctx, store.DocRecord{
		DocID: item.DocID,
		Path:  item.Path,
		MTime: item.MTime,
		SHA1:  item.SHA1,
		Mime:  res.Mime,
	}, chunks)
	if err != nil {
		return false, err
	}
	return true, nil
}

// rebuildIfNeeded re-embeds every stored chunk and rewrites the index
// when chunks changed, the index is absent, or its persisted state
// disagrees with the store.
func (p *Pipeline) rebuildIfNeeded(ctx context.Context, dirty bool, stats *BuildStats) error {
	need := dirty || !p.index.Exists()
	if !need {
		if err := p.ensureLoadedLocked(); err != nil {
			if !errors.Is(err, mobilerag.ErrStorageCorrupt) {
				return err
			}
			slog.Warn("rag: index corrupt, rebuilding", "error", err)
			need = true
		} else {
			count, err := p.store.CountChunks(ctx)
			if err != nil {
				return err
			}
			if count != p.index.Count() {
				slog.Warn("rag: index count mismatch, rebuilding",
					"index", p.index.Count(), "store", count)
				need = true
			}
		}
	}
	if !need {
		return nil
	}

	chunks, err := p.store.GetAllChunks(ctx)
	if err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ChunkID
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if err := p.index.Build(vectors, ids); err != nil {
		return err
	}
	if err := p.index.Save(); err != nil {
		return err
	}
	if err := p.index.Load(); err != nil {
		return err
	}
	p.loaded = true
	stats.Rebuilt = true
	return nil
}

func (p *Pipeline) ensureLoadedLocked() error {
	if p.loaded {
		return nil
	}
	if err := p.index.Load(); err != nil {
		return err
	}
	p.loaded = true
	return nil
}

// Retrieve embeds the query, searches the index for the candidate set,
// reranks, and returns the top-k snippets.
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if !p.cfg.RAG.Enabled {
		return nil, nil
	}
	if topK <= 0 {
		topK = p.cfg.RAG.TopK
	}

	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.index.Count() == 0 {
		return nil, nil
	}

	qvecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	k := topK
	if p.cfg.RAG.CandidatesK > k {
		k = p.cfg.RAG.CandidatesK
	}
	scores, ids, err := p.index.Search(qvecs, k)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 || len(ids[0]) == 0 {
		return nil, nil
	}

	records, err := p.store.GetChunkTextByIDs(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	scoreByID := make(map[string]float64, len(ids[0]))
	for i, id := range ids[0] {
		scoreByID[id] = float64(scores[0][i])
	}

	// Orphan ids (vectors whose chunk rows are gone) are filtered here.
	cands := make([]rerank.Candidate, 0, len(records))
	for _, rec := range records {
		cands = append(cands, rerank.Candidate{
			ChunkID: rec.ChunkID,
			DocID:   rec.DocID,
			Path:    rec.Path,
			Score:   scoreByID[rec.ChunkID],
			Text:    rec.Text,
		})
	}
	cands = p.reranker.Rerank(query, cands)
	if len(cands) > topK {
		cands = cands[:topK]
	}

	snips := make([]Snippet, len(cands))
	for i, c := range cands {
		snips[i] = Snippet{ChunkID: c.ChunkID, DocID: c.DocID, Path: c.Path, Score: c.Score, Text: c.Text}
	}
	return snips, nil
}

// ensureReady makes sure an index is built and loaded before a search.
func (p *Pipeline) ensureReady(ctx context.Context) error {
	p.mu.RLock()
	ready := p.loaded
	p.mu.RUnlock()
	if ready {
		return nil
	}

	p.mu.Lock()
	if !p.loaded && p.index.Exists() {
		if err := p.ensureLoadedLocked(); err == nil {
			p.mu.Unlock()
			return nil
		} else if !errors.Is(err, mobilerag.ErrStorageCorrupt) {
			p.mu.Unlock()
			return err
		}
	}
	p.mu.Unlock()

	// Missing or corrupt index: run a build pass.
	_, err := p.BuildOrUpdateIndex(ctx)
	return err
}

// FormatForPrompt renders snippets as numbered citation blocks,
// stopping before maxChars would be exceeded.
func FormatForPrompt(snips []Snippet, maxChars int) string {
	var b strings.Builder
	for i, s := range snips {
		block := fmt.Sprintf("[%d] %s (score=%.4f)\n%s\n\n", i+1, s.Path, s.Score, s.Text)
		if maxChars > 0 && b.Len()+len(block) > maxChars {
			break
		}
		b.WriteString(block)
	}
	return b.String()
}
