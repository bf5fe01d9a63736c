package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

func testVectors() ([][]float32, []string) {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0.7071, 0.7071, 0},
	}, []string{"a:000000", "b:000000", "c:000000", "d:000000"}
}

func TestFlatBuildSearch(t *testing.T) {
	dir := t.TempDir()
	idx, err := New(filepath.Join(dir, "chunks.index"), 3, "flat")
	if err != nil {
		t.Fatal(err)
	}
	vecs, ids := testVectors()
	if err := idx.Build(vecs, ids); err != nil {
		t.Fatal(err)
	}

	scores, got, err := idx.Search([][]float32{{1, 0, 0}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != "a:000000" {
		t.Errorf("top hit = %s, want a:000000", got[0][0])
	}
	if got[0][1] != "d:000000" {
		t.Errorf("second hit = %s, want d:000000", got[0][1])
	}
	if scores[0][0] < scores[0][1] {
		t.Errorf("scores not non-increasing: %v", scores[0])
	}
}

func TestFlatSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.index")
	idx, _ := New(path, 3, "flat")
	vecs, ids := testVectors()
	if err := idx.Build(vecs, ids); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	if !idx.Exists() {
		t.Fatal("Exists() false after save")
	}

	idx2, _ := New(path, 3, "flat")
	if err := idx2.Load(); err != nil {
		t.Fatal(err)
	}
	if idx2.Count() != 4 {
		t.Errorf("count = %d, want 4", idx2.Count())
	}
	_, got, err := idx2.Search([][]float32{{0, 1, 0}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != "b:000000" {
		t.Errorf("top hit after reload = %s, want b:000000", got[0][0])
	}
}

func TestFlatTieBreakByRow(t *testing.T) {
	dir := t.TempDir()
	idx, _ := New(filepath.Join(dir, "chunks.index"), 2, "flat")
	// Identical vectors: ties resolve by ascending insertion order.
	vecs := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	ids := []string{"first", "second", "third"}
	if err := idx.Build(vecs, ids); err != nil {
		t.Fatal(err)
	}
	_, got, err := idx.Search([][]float32{{1, 0}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[0][i] != want[i] {
			t.Errorf("hit %d = %s, want %s", i, got[0][i], want[i])
		}
	}
}

func TestFlatKClamped(t *testing.T) {
	dir := t.TempDir()
	idx, _ := New(filepath.Join(dir, "chunks.index"), 3, "flat")
	vecs, ids := testVectors()
	if err := idx.Build(vecs, ids); err != nil {
		t.Fatal(err)
	}
	_, got, err := idx.Search([][]float32{{1, 0, 0}}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 4 {
		t.Errorf("got %d hits, want 4", len(got[0]))
	}
}

func TestFlatDimMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, _ := New(filepath.Join(dir, "chunks.index"), 3, "flat")
	if err := idx.Build([][]float32{{1, 0}}, []string{"a"}); err == nil {
		t.Error("expected dim mismatch error on Build")
	}
	vecs, ids := testVectors()
	idx.Build(vecs, ids)
	if _, _, err := idx.Search([][]float32{{1, 0}}, 1); err == nil {
		t.Error("expected dim mismatch error on Search")
	}
}

func TestFlatCorruptMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.index")
	idx, _ := New(path, 3, "flat")
	vecs, ids := testVectors()
	idx.Build(vecs, ids)
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaPath(path), []byte(`{"dim":99,"metric":"ip","backend":"flat","count":4}`), 0644); err != nil {
		t.Fatal(err)
	}

	idx2, _ := New(path, 3, "flat")
	err := idx2.Load()
	if !errors.Is(err, mobilerag.ErrStorageCorrupt) {
		t.Errorf("err = %v, want ErrStorageCorrupt", err)
	}
}

func TestFlatExistsRequiresBothFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.index")
	idx, _ := New(path, 3, "flat")
	if idx.Exists() {
		t.Error("Exists() true before save")
	}
	vecs, ids := testVectors()
	idx.Build(vecs, ids)
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	os.Remove(metaPath(path))
	if idx.Exists() {
		t.Error("Exists() true with missing metadata")
	}
}

func TestOpenSelectsBackendFromMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.index")
	idx, _ := New(path, 3, "flat")
	vecs, ids := testVectors()
	idx.Build(vecs, ids)
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}

	// Default backend differs, but the metadata tag must win.
	opened, err := Open(path, 3, "sqlite-vec")
	if err != nil {
		t.Fatal(err)
	}
	if err := opened.Load(); err != nil {
		t.Fatalf("Open did not select flat reader: %v", err)
	}
}
