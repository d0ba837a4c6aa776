package chunker

import "github.com/dshills/semsearch-mcp/pkg/types"

// LineChunker emits fixed windows of lines with a fixed overlap
type LineChunker struct {
	size    int
	overlap int
}

// NewLineChunker creates a line chunker. Non-positive sizes use the defaults,
// and the overlap is capped so every window advances.
func NewLineChunker(size, overlap int) *LineChunker {
	if size <= 0 {
		size = DefaultChunkLines
	}
	if overlap < 0 {
		overlap = DefaultOverlapLines
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &LineChunker{size: size, overlap: overlap}
}

// Chunk implements Chunker
func (c *LineChunker) Chunk(content, _ string) ([]types.Span, error) {
	lines := splitLines(content)
	var spans []types.Span

	step := c.size - c.overlap
	for start := 1; start <= len(lines); start += step {
		end := start + c.size - 1
		if end > len(lines) {
			end = len(lines)
		}
		spans = appendSpan(spans, lines, start, end)
		if end == len(lines) {
			break
		}
	}
	return spans, nil
}
