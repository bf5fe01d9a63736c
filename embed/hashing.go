package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Hashing is a deterministic offline embedder: a word-tokenized hashing
// vectorizer with non-negative counts, row-L2 normalized. It is a pure
// function of its input and needs no model files or network.
type Hashing struct {
	dim int
}

// NewHashing returns a hashing embedder of the given dimension
// (default 2048 when dim <= 0).
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 2048
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Dim() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, h.dim)
		for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
			f := fnv.New64a()
			f.Write([]byte(tok))
			v[f.Sum64()%uint64(h.dim)]++
		}
		normalizeRow(v)
		out[i] = v
	}
	return out, nil
}
