// Package rerank rescores retrieval candidates with a lexical overlap
// signal blended into the vector score.
package rerank

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Candidate is one retrieval hit to be rescored. Text is the chunk
// text; Score the vector similarity.
type Candidate struct {
	ChunkID string
	DocID   string
	Path    string
	Score   float64
	Text    string
}

// Hybrid reorders candidates by score + alpha * token overlap with the
// query. The sort is stable, so equal blended scores keep their input
// order.
type Hybrid struct {
	Alpha float64
}

// New creates a reranker by backend name. "hybrid", "overlap", and
// "lexical" all select the overlap blend.
func New(backend string, alpha float64) (*Hybrid, error) {
	switch backend {
	case "hybrid", "overlap", "lexical", "":
		return &Hybrid{Alpha: alpha}, nil
	default:
		return nil, fmt.Errorf("unknown rerank backend: %s", backend)
	}
}

// Rerank returns the candidates reordered by blended score, descending.
// An empty query token set returns the input unchanged.
func (h *Hybrid) Rerank(query string, cands []Candidate) []Candidate {
	qtoks := tokenSet(query)
	if len(qtoks) == 0 {
		return cands
	}

	type scored struct {
		c     Candidate
		score float64
	}
	rescored := make([]scored, len(cands))
	for i, c := range cands {
		rescored[i] = scored{c: c, score: c.Score + h.Alpha*overlap(qtoks, c.Text)}
	}
	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].score > rescored[j].score
	})

	out := make([]Candidate, len(cands))
	for i, s := range rescored {
		out[i] = s.c
		out[i].Score = s.score
	}
	return out
}

// overlap is |query tokens ∩ text tokens| / |query tokens|.
func overlap(qtoks map[string]struct{}, text string) float64 {
	ttoks := tokenSet(text)
	if len(qtoks) == 0 {
		return 0
	}
	common := 0
	for tok := range qtoks {
		if _, ok := ttoks[tok]; ok {
			common++
		}
	}
	return float64(common) / float64(len(qtoks))
}

func tokenSet(s string) map[string]struct{} {
	toks := wordRe.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}
