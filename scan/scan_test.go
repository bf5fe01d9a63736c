package scan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "bravo")
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "c.bin", "binary")
	writeFile(t, dir, "sub/d.md", "delta")

	items, err := List([]string{filepath.Join(dir, "**", "*")}, Options{
		Exts: []string{".txt", "md"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].Path >= items[i].Path {
			t.Errorf("items not sorted by path: %q >= %q", items[i-1].Path, items[i].Path)
		}
	}
	for _, it := range items {
		if it.Modality != "text" {
			t.Errorf("modality = %q, want text", it.Modality)
		}
		if it.SHA1 == "" || it.DocID == "" {
			t.Errorf("missing digest or doc id: %+v", it)
		}
	}
}

func TestListDeduplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")

	items, err := List([]string{
		filepath.Join(dir, "*.txt"),
		filepath.Join(dir, "a.*"),
	}, Options{Exts: []string{".txt"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
}

func TestListSizeCap(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 2<<20)
	writeFile(t, dir, "big.txt", string(big))
	writeFile(t, dir, "small.txt", "ok")

	items, err := List([]string{filepath.Join(dir, "*.txt")}, Options{
		Exts:          []string{".txt"},
		MaxFileSizeMB: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || filepath.Base(items[0].Path) != "small.txt" {
		t.Fatalf("size cap not applied: %+v", items)
	}
}

func TestStableDocID(t *testing.T) {
	a := StableDocID("/data/doc.txt")
	b := StableDocID("/data/doc.txt")
	c := StableDocID("/data/other.txt")
	if a != b {
		t.Errorf("same path produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("different paths produced the same id")
	}
	if len(a) != 40 {
		t.Errorf("doc id length = %d, want 40 hex chars", len(a))
	}
}

func TestScanDeterminism(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "bravo")

	pattern := []string{filepath.Join(dir, "*.txt")}
	first, err := List(pattern, Options{Exts: []string{".txt"}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := List(pattern, Options{Exts: []string{".txt"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("scans differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("scan %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
