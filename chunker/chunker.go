// Package chunker splits text into overlapping character windows.
package chunker

import (
	"fmt"
	"strings"
)

// Span is one chunk of the input: its byte offsets in the source and
// the whitespace-trimmed window text. Start and End are offsets of the
// untrimmed window, so consecutive spans cover the input with the
// configured overlap.
type Span struct {
	Start int
	End   int
	Text  string
}

// Chunk slides a window of size bytes over text, advancing by
// size-overlap. Overlap is clamped to [0, size-1]. Each window is
// trimmed; windows that are empty after trimming are dropped. The final
// chunk always ends at len(text).
func Chunk(text string, size, overlap int) ([]Span, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	var spans []Span
	n := len(text)
	start := 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}
		if trimmed := strings.TrimSpace(text[start:end]); trimmed != "" {
			spans = append(spans, Span{Start: start, End: end, Text: trimmed})
		}
		if end == n {
			break
		}
		start = end - overlap
	}
	return spans, nil
}
