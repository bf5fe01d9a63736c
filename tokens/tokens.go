// Package tokens provides deterministic token counting for budget math.
package tokens

import (
	"math"
	"strings"
)

// Counter estimates token counts with a word-based heuristic:
// tokens ~ words * 1.3. The zero value is ready to use.
//
// The estimate is deterministic and model-independent, which the budget
// orchestrator relies on for reproducible prompt assembly.
type Counter struct{}

// Count returns the estimated token count of text.
func (Counter) Count(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
