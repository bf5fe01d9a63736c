// Package budget assembles the bounded prompt context for one turn.
package budget

import (
	"github.com/lavandejoey/MobileRAG/history"
	"github.com/lavandejoey/MobileRAG/tokens"
)

// TokenCounter abstracts token counting for budget math.
type TokenCounter interface {
	Count(text string) int
}

// Limits bound each context category and the overall window.
type Limits struct {
	ModelContextWindow int
	SummaryTokenLimit  int
	MemoryTokenLimit   int
	EvidenceTokenLimit int
	RecentMessageLimit int
}

// Budget is the materialized prompt context. TotalTokens never exceeds
// the model context window.
type Budget struct {
	Summary        string
	RecentMessages []string
	Memories       []string
	Evidence       []string
	TotalTokens    int
}

// Orchestrator fills the context window in a fixed priority: query
// reserve, then summary, evidence, memories, and finally recent
// messages walked newest to oldest.
type Orchestrator struct {
	limits  Limits
	counter TokenCounter
}

// New returns an orchestrator with the given limits. A nil counter
// defaults to the word-heuristic estimator.
func New(limits Limits, counter TokenCounter) *Orchestrator {
	if counter == nil {
		counter = tokens.Counter{}
	}
	return &Orchestrator{limits: limits, counter: counter}
}

// Orchestrate builds the budget for one query. Evidence and memories
// are taken in input order; recent messages newest-first with
// chronological order preserved in the result. Each category is bounded
// by both its own limit and the remaining overall budget.
func (o *Orchestrator) Orchestrate(query, summary string, evidence, memories []string, recent []history.MessageRow) Budget {
	total := o.counter.Count(query)
	remaining := o.limits.ModelContextWindow - total
	if remaining < 0 {
		remaining = 0
	}

	b := Budget{}

	if summary != "" {
		if n := o.counter.Count(summary); n <= o.limits.SummaryTokenLimit && n <= remaining {
			b.Summary = summary
			total += n
			remaining -= n
		}
	}

	b.Evidence, total, remaining = fill(o.counter, evidence, o.limits.EvidenceTokenLimit, total, remaining)
	b.Memories, total, remaining = fill(o.counter, memories, o.limits.MemoryTokenLimit, total, remaining)

	if o.limits.RecentMessageLimit > 0 && len(recent) > o.limits.RecentMessageLimit {
		recent = recent[len(recent)-o.limits.RecentMessageLimit:]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		n := o.counter.Count(recent[i].Role + ": " + recent[i].Content)
		if n > remaining {
			break
		}
		b.RecentMessages = append([]string{recent[i].Content}, b.RecentMessages...)
		total += n
		remaining -= n
	}

	b.TotalTokens = total
	return b
}

// fill adds items in order while the running sum stays within both the
// category limit and the remaining overall budget.
func fill(counter TokenCounter, items []string, limit, total, remaining int) ([]string, int, int) {
	if limit > remaining {
		limit = remaining
	}
	var out []string
	used := 0
	for _, item := range items {
		n := counter.Count(item)
		if used+n > limit {
			break
		}
		out = append(out, item)
		used += n
	}
	return out, total + used, remaining - used
}
