package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashingDeterministic(t *testing.T) {
	h := NewHashing(2048)
	ctx := context.Background()

	a, err := h.Embed(ctx, []string{"Paris is the capital of France"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Embed(ctx, []string{"Paris is the capital of France"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("embedding differs at %d", i)
		}
	}
}

func TestHashingUnitNorm(t *testing.T) {
	h := NewHashing(256)
	vecs, err := h.Embed(context.Background(), []string{"some words here", "more text"})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if len(v) != 256 {
			t.Errorf("row %d has dim %d, want 256", i, len(v))
		}
		if n := norm(v); math.Abs(n-1.0) > 1e-5 {
			t.Errorf("row %d norm = %f, want 1", i, n)
		}
	}
}

func TestHashingEmptyInputs(t *testing.T) {
	h := NewHashing(64)
	vecs, err := h.Embed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 0 {
		t.Errorf("got %d rows for empty batch", len(vecs))
	}

	// Empty string yields a zero vector, not an error.
	vecs, err = h.Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatal(err)
	}
	if n := norm(vecs[0]); n != 0 {
		t.Errorf("empty string norm = %f, want 0", n)
	}
}

func TestHashingSimilarTextsCloser(t *testing.T) {
	h := NewHashing(2048)
	vecs, err := h.Embed(context.Background(), []string{
		"capital of France",
		"Paris is the capital of France",
		"quantum chromodynamics lattice gauge",
	})
	if err != nil {
		t.Fatal(err)
	}
	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Error("related text did not score higher than unrelated text")
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float64{3, 4, 0},
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model", 3)
	vecs, err := o.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm(vecs[0])-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1", norm(vecs[0]))
	}
	if math.Abs(float64(vecs[0][0])-0.6) > 1e-5 {
		t.Errorf("v[0] = %f, want 0.6", vecs[0][0])
	}
}

func TestOllamaEmbedFallbackEndpoint(t *testing.T) {
	// Server without the legacy /api/embeddings route: the client must
	// fall back to /api/embed, which returns a batch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{0, 5, 0}},
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model", 3)
	vecs, err := o.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(vecs[0][1])-1.0) > 1e-5 {
		t.Errorf("v[1] = %f, want 1 after normalization", vecs[0][1])
	}
}

func TestOllamaMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model", 3)
	_, err := o.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, mobilerag.ErrEmbedderProtocol) {
		t.Errorf("err = %v, want ErrEmbedderProtocol", err)
	}
}

func TestOllamaDimMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2}})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model", 3)
	_, err := o.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, mobilerag.ErrEmbedderProtocol) {
		t.Errorf("err = %v, want ErrEmbedderProtocol", err)
	}
}

func TestNewFactory(t *testing.T) {
	e, err := New("hashing", 512, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Dim() != 512 {
		t.Errorf("dim = %d, want 512", e.Dim())
	}
	if _, err := New("bogus", 512, "", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
