// Package embed maps batches of strings to unit-norm dense vectors.
package embed

import (
	"context"
	"fmt"
	"math"
)

// Embedder converts a batch of strings into row-normalized vectors of a
// fixed dimension. An index is bound to one embedder backend and one
// dimension; mixing is disallowed.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// New creates an embedder backend by name.
func New(backend string, dim int, baseURL, model string) (Embedder, error) {
	switch backend {
	case "hashing", "":
		return NewHashing(dim), nil
	case "ollama":
		return NewOllama(baseURL, model, dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder backend: %s", backend)
	}
}

// normalizeRow L2-normalizes v in place. Zero vectors are left as-is;
// they score zero against everything under inner product.
func normalizeRow(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
