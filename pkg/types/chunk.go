package types

import (
	"errors"
	"fmt"
	"strings"
)

// ChunkKey is the composite identity of a stored chunk.
// Two chunks of the same file that share a start line but end on different
// lines are distinct keys.
type ChunkKey struct {
	File      string
	StartLine int
	EndLine   int
}

// String renders the key as file:start-end
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s:%d-%d", k.File, k.StartLine, k.EndLine)
}

// Less orders keys by file, then start line, then end line
func (k ChunkKey) Less(other ChunkKey) bool {
	if k.File != other.File {
		return k.File < other.File
	}
	if k.StartLine != other.StartLine {
		return k.StartLine < other.StartLine
	}
	return k.EndLine < other.EndLine
}

// Span is a contiguous, 1-indexed, inclusive line range of a file produced
// by a chunker before it has been embedded.
type Span struct {
	StartLine int
	EndLine   int
	Content   string
}

// Lines returns the number of lines covered by the span
func (s Span) Lines() int {
	return s.EndLine - s.StartLine + 1
}

// Chunk is one embedded span of a source file
type Chunk struct {
	File      string // Absolute path
	StartLine int
	EndLine   int
	Content   string
	Vector    []float32
}

// Key returns the composite identity of the chunk
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{File: c.File, StartLine: c.StartLine, EndLine: c.EndLine}
}

// Validate checks the structural invariants of a chunk.
// dimension <= 0 skips the vector length check.
func (c *Chunk) Validate(dimension int) error {
	if c.File == "" {
		return ErrMissingFile
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return ErrInvalidLineRange
	}
	if dimension > 0 && len(c.Vector) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorDimension, len(c.Vector), dimension)
	}
	return nil
}

// SliceLines returns lines[start-1:end] joined with newlines, clamped to the
// available lines. It is the reference used to re-slice chunk text.
func SliceLines(lines []string, startLine, endLine int) string {
	start := startLine - 1
	if start < 0 {
		start = 0
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if start >= endLine {
		return ""
	}
	return strings.Join(lines[start:endLine], "\n")
}
