package types

// SearchResult is a single ranked chunk returned by a search
type SearchResult struct {
	File      string  `json:"file"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`

	// Score components, kept for status/debug output
	Similarity  float64 `json:"similarity"`
	TermOverlap float64 `json:"term_overlap"`
	ExactMatch  bool    `json:"exact_match"`
}

// Key returns the composite identity of the result's chunk
func (r *SearchResult) Key() ChunkKey {
	return ChunkKey{File: r.File, StartLine: r.StartLine, EndLine: r.EndLine}
}

// Validate checks if the search result is valid
func (r *SearchResult) Validate() error {
	if r.File == "" {
		return ErrMissingFile
	}
	if r.StartLine > r.EndLine || r.StartLine <= 0 {
		return ErrInvalidLineRange
	}
	if r.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
