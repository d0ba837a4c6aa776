// Package tokenizer estimates token counts for embedding-model budgets and
// decides where a running chunk has to be cut.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken is the heuristic used for estimating tokens (chars/4)
	CharsPerToken = 4

	// DefaultContextWindow applies to models missing from the window table
	DefaultContextWindow = 512

	// SoftLimitRatio is the fill level after which a boundary line may split a chunk
	SoftLimitRatio = 0.6
)

// modelWindows maps model name fragments to their context window in tokens
var modelWindows = map[string]int{
	"jina-embeddings-v3":           8192,
	"jina-embeddings-v2-base-code": 8192,
	"text-embedding-3-small":       8191,
	"text-embedding-3-large":       8191,
	"text-embedding-ada-002":       8191,
	"nomic-embed-text":             2048,
	"all-minilm":                   256,
	"local":                        512,
}

// Budget is the token allowance of one chunk
type Budget struct {
	Target  int // Maximum estimated tokens per chunk
	Overlap int // Maximum estimated tokens carried into the next chunk
}

// ContextWindow returns the context window of a model, matching on name fragments
// so that "jinaai/jina-embeddings-v2-base-code" resolves like its short name.
func ContextWindow(model string) int {
	m := strings.ToLower(model)
	best, bestLen := DefaultContextWindow, 0
	for name, window := range modelWindows {
		if strings.Contains(m, name) && len(name) > bestLen {
			best, bestLen = window, len(name)
		}
	}
	return best
}

// BudgetForModel clamps the configured chunk budget to the model window.
// overlapTokens <= 0 defaults to an eighth of the target.
func BudgetForModel(model string, chunkTokens, overlapTokens int) Budget {
	window := ContextWindow(model)
	target := chunkTokens
	if target <= 0 || target > window {
		target = window
	}
	overlap := overlapTokens
	if overlap <= 0 {
		overlap = target / 8
	}
	if overlap >= target {
		overlap = target / 2
	}
	return Budget{Target: target, Overlap: overlap}
}

// EstimateTokens estimates the token count of text. Any non-empty text costs
// at least one token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateLines returns the estimate of every line, counting its newline
func EstimateLines(lines []string) []int {
	out := make([]int, len(lines))
	for i, line := range lines {
		out[i] = EstimateTokens(line) + 1
	}
	return out
}

// Estimator applies a Budget to running token counts
type Estimator struct {
	budget Budget
}

// New creates an Estimator. A non-positive target falls back to the default window.
func New(budget Budget) *Estimator {
	if budget.Target <= 0 {
		budget.Target = DefaultContextWindow
	}
	if budget.Overlap < 0 {
		budget.Overlap = 0
	}
	return &Estimator{budget: budget}
}

// Budget returns the budget in use
func (e *Estimator) Budget() Budget {
	return e.budget
}

// Exceeds reports whether adding next tokens to current would overflow the target.
// An empty chunk never overflows, so a single oversized line still gets a chunk.
func (e *Estimator) Exceeds(current, next int) bool {
	return current > 0 && current+next > e.budget.Target
}

// AboveSoftLimit reports whether current is past the boundary split threshold
func (e *Estimator) AboveSoftLimit(current int) bool {
	return float64(current) > SoftLimitRatio*float64(e.budget.Target)
}

// OverlapStart returns the index where the overlap window of the chunk
// lineTokens[start:end] begins: the longest tail whose tokens fit in the
// overlap budget. The result is always > start so the next chunk makes
// progress, and end when nothing fits.
func (e *Estimator) OverlapStart(lineTokens []int, start, end int) int {
	sum := 0
	i := end
	for i > start+1 {
		next := sum + lineTokens[i-1]
		if next > e.budget.Overlap {
			break
		}
		sum = next
		i--
	}
	return i
}

// Window is a half-open range [Start, End) of 0-based line indices
type Window struct {
	Start int
	End   int
}

// Boundaries walks the per-line estimates and returns the windows a chunk
// splitter should emit. A window is closed when the next line would overflow
// the budget, or when isBoundary reports a boundary line while the window is
// above the soft limit and holds more than 3 lines. The following window
// starts with the overlap tail of the closed one. isBoundary may be nil.
func (e *Estimator) Boundaries(lineTokens []int, isBoundary func(i int) bool) []Window {
	var windows []Window
	start, current := 0, 0

	for i, tokens := range lineTokens {
		split := e.Exceeds(current, tokens)
		if !split && isBoundary != nil && i-start > 3 && e.AboveSoftLimit(current) {
			split = isBoundary(i)
		}

		if split && i > start {
			windows = append(windows, Window{Start: start, End: i})
			start = e.OverlapStart(lineTokens, start, i)
			current = 0
			for _, t := range lineTokens[start:i] {
				current += t
			}
		}
		current += tokens
	}

	if start < len(lineTokens) {
		windows = append(windows, Window{Start: start, End: len(lineTokens)})
	}
	return windows
}
