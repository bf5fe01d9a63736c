package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

func testConfig(t *testing.T, corpusDir string) mobilerag.Config {
	t.Helper()
	cfg := mobilerag.DefaultConfig()
	cfg.DocsGlobs = []string{filepath.Join(corpusDir, "*")}
	cfg.DocsExts = []string{".txt", ".md"}
	cfg.RAG.IndexDir = filepath.Join(t.TempDir(), "rag")
	cfg.RAG.IndexBackend = "flat"
	cfg.RAG.EmbedderBackend = "hashing"
	cfg.RAG.EmbedDim = 512
	return cfg
}

func newTestPipeline(t *testing.T, cfg mobilerag.Config) *Pipeline {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSingleDocumentRetrieval(t *testing.T) {
	corpus := t.TempDir()
	err := os.WriteFile(filepath.Join(corpus, "doc.txt"),
		[]byte("Paris is the capital of France. Berlin is the capital of Germany."), 0644)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, corpus)
	cfg.RAG.ChunkSize = 40
	cfg.RAG.ChunkOverlap = 10
	cfg.RAG.TopK = 1

	p := newTestPipeline(t, cfg)
	ctx := context.Background()

	stats, err := p.BuildOrUpdateIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Rebuilt || stats.Chunks == 0 {
		t.Fatalf("build did not index anything: %+v", stats)
	}

	snips, err := p.Retrieve(ctx, "capital of France?", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snips) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snips))
	}
	if !strings.Contains(snips[0].Text, "Paris") {
		t.Errorf("top snippet does not mention Paris: %q", snips[0].Text)
	}
}

func TestIdempotentBuild(t *testing.T) {
	corpus := t.TempDir()
	for _, f := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(corpus, f), []byte("content of "+f), 0644); err != nil {
			t.Fatal(err)
		}
	}

	p := newTestPipeline(t, testConfig(t, corpus))
	ctx := context.Background()

	first, err := p.BuildOrUpdateIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Updated != 3 || !first.Rebuilt {
		t.Fatalf("first pass: %+v", first)
	}

	second, err := p.BuildOrUpdateIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Updated != 0 || second.Rebuilt {
		t.Errorf("second pass touched an unchanged corpus: %+v", second)
	}
	if second.Chunks != first.Chunks {
		t.Errorf("chunk count changed: %d vs %d", second.Chunks, first.Chunks)
	}
}

func TestContentChangeTriggersRebuild(t *testing.T) {
	corpus := t.TempDir()
	path := filepath.Join(corpus, "doc.txt")
	if err := os.WriteFile(path, []byte("original content here"), 0644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, testConfig(t, corpus))
	ctx := context.Background()
	if _, err := p.BuildOrUpdateIndex(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("completely different words now"), 0644); err != nil {
		t.Fatal(err)
	}
	// Guarantee an observable mtime change regardless of filesystem
	// timestamp granularity.
	bump := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, bump, bump); err != nil {
		t.Fatal(err)
	}
	stats, err := p.BuildOrUpdateIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 1 || !stats.Rebuilt {
		t.Errorf("content change not picked up: %+v", stats)
	}

	snips, err := p.Retrieve(ctx, "different words", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snips) == 0 || !strings.Contains(snips[0].Text, "different") {
		t.Errorf("retrieval did not see new content: %+v", snips)
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	p := newTestPipeline(t, testConfig(t, t.TempDir()))
	snips, err := p.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snips) != 0 {
		t.Errorf("got %d snippets from an empty corpus", len(snips))
	}
}

func TestRetrieveResolvesAllChunkIDs(t *testing.T) {
	corpus := t.TempDir()
	if err := os.WriteFile(filepath.Join(corpus, "doc.txt"),
		[]byte(strings.Repeat("alpha beta gamma delta. ", 50)), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, corpus)
	cfg.RAG.ChunkSize = 100
	cfg.RAG.ChunkOverlap = 20
	p := newTestPipeline(t, cfg)
	ctx := context.Background()
	if _, err := p.BuildOrUpdateIndex(ctx); err != nil {
		t.Fatal(err)
	}

	snips, err := p.Retrieve(ctx, "alpha beta", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(snips) == 0 {
		t.Fatal("no snippets")
	}
	if len(snips) > 4 {
		t.Errorf("got %d snippets, want at most 4", len(snips))
	}
	for i, s := range snips {
		if s.ChunkID == "" || s.Text == "" {
			t.Errorf("snippet %d did not resolve: %+v", i, s)
		}
		if i > 0 && snips[i-1].Score < s.Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}
}

func TestDisabledPipeline(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.RAG.Enabled = false
	p := newTestPipeline(t, cfg)

	stats, err := p.BuildOrUpdateIndex(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rebuilt {
		t.Error("disabled pipeline rebuilt an index")
	}
	snips, err := p.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if snips != nil {
		t.Errorf("disabled pipeline returned snippets: %+v", snips)
	}
}

func TestFormatForPrompt(t *testing.T) {
	snips := []Snippet{
		{Path: "/a.txt", Score: 0.9123, Text: "first"},
		{Path: "/b.txt", Score: 0.5, Text: "second"},
	}
	out := FormatForPrompt(snips, 0)
	if !strings.Contains(out, "[1] /a.txt (score=0.9123)\nfirst\n\n") {
		t.Errorf("block format wrong:\n%s", out)
	}
	if !strings.Contains(out, "[2] /b.txt") {
		t.Errorf("second citation missing:\n%s", out)
	}

	// A tight cap keeps only the first block.
	capped := FormatForPrompt(snips, 40)
	if strings.Contains(capped, "[2]") {
		t.Errorf("cap not applied:\n%s", capped)
	}
	if !strings.Contains(capped, "[1]") {
		t.Errorf("cap dropped everything:\n%s", capped)
	}
}
