package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "rag_meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("abc", 7); got != "abc:000007" {
		t.Errorf("ChunkID = %q, want abc:000007", got)
	}
}

func TestDocUpsertAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := DocRecord{DocID: "d1", Path: "/data/a.txt", MTime: 100.5, SHA1: "aa", Mime: "text/plain"}
	if err := s.UpsertDoc(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDocByPath(ctx, "/data/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != doc {
		t.Fatalf("got %+v, want %+v", got, doc)
	}

	// Upsert updates in place.
	doc.SHA1 = "bb"
	doc.MTime = 200.25
	if err := s.UpsertDoc(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetDocByPath(ctx, "/data/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.SHA1 != "bb" || got.MTime != 200.25 {
		t.Errorf("upsert did not update: %+v", got)
	}

	missing, err := s.GetDocByPath(ctx, "/data/none.txt")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing doc, got %+v", missing)
	}
}

func TestReplaceDocChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := DocRecord{DocID: "d1", Path: "/data/a.txt", MTime: 1, SHA1: "aa", Mime: "text/plain"}
	old := []ChunkRecord{
		{ChunkID: ChunkID("d1", 0), DocID: "d1", Path: doc.Path, Idx: 0, Start: 0, End: 10, Text: "old zero"},
		{ChunkID: ChunkID("d1", 1), DocID: "d1", Path: doc.Path, Idx: 1, Start: 8, End: 18, Text: "old one"},
	}
	if err := s.ReplaceDocChunks(ctx, doc, old); err != nil {
		t.Fatal(err)
	}

	fresh := []ChunkRecord{
		{ChunkID: ChunkID("d1", 0), DocID: "d1", Path: doc.Path, Idx: 0, Start: 0, End: 12, Text: "new zero"},
	}
	if err := s.ReplaceDocChunks(ctx, doc, fresh); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetAllChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Text != "new zero" {
		t.Fatalf("replace left stale chunks: %+v", all)
	}
}

func TestGetAllChunksOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, docID := range []string{"bbb", "aaa"} {
		doc := DocRecord{DocID: docID, Path: "/" + docID, MTime: 1, SHA1: "x", Mime: "text/plain"}
		chunks := []ChunkRecord{
			{ChunkID: ChunkID(docID, 1), DocID: docID, Path: doc.Path, Idx: 1, Start: 5, End: 10, Text: "one"},
			{ChunkID: ChunkID(docID, 0), DocID: docID, Path: doc.Path, Idx: 0, Start: 0, End: 5, Text: "zero"},
		}
		if err := s.ReplaceDocChunks(ctx, doc, chunks); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetAllChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ChunkID >= all[i].ChunkID {
			t.Errorf("chunks not ordered by chunk_id: %q >= %q", all[i-1].ChunkID, all[i].ChunkID)
		}
	}
}

func TestGetChunkTextByIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := DocRecord{DocID: "d1", Path: "/a", MTime: 1, SHA1: "x", Mime: "text/plain"}
	chunks := []ChunkRecord{
		{ChunkID: ChunkID("d1", 0), DocID: "d1", Path: "/a", Idx: 0, Start: 0, End: 5, Text: "zero"},
		{ChunkID: ChunkID("d1", 1), DocID: "d1", Path: "/a", Idx: 1, Start: 3, End: 8, Text: "one"},
		{ChunkID: ChunkID("d1", 2), DocID: "d1", Path: "/a", Idx: 2, Start: 6, End: 11, Text: "two"},
	}
	if err := s.ReplaceDocChunks(ctx, doc, chunks); err != nil {
		t.Fatal(err)
	}

	// Input order preserved, missing ids silently omitted.
	got, err := s.GetChunkTextByIDs(ctx, []string{
		ChunkID("d1", 2), "ghost:000000", ChunkID("d1", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Text != "two" || got[1].Text != "zero" {
		t.Errorf("order not preserved: %+v", got)
	}

	none, err := s.GetChunkTextByIDs(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("expected nil for empty id list")
	}
}

func TestUpdateDocMTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := DocRecord{DocID: "d1", Path: "/a", MTime: 1, SHA1: "x", Mime: "text/plain"}
	if err := s.UpsertDoc(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocMTime(ctx, "d1", 42.5); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDocByPath(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if got.MTime != 42.5 || got.SHA1 != "x" {
		t.Errorf("mtime-only update went wrong: %+v", got)
	}
}
