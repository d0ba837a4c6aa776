package chunker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dshills/semsearch-mcp/pkg/types"
)

// MinNodeLines is the smallest syntax node that becomes a span
const MinNodeLines = 2

// Node is a syntax node reduced to its type and 1-indexed inclusive line range
type Node struct {
	Type      string
	StartLine int
	EndLine   int
}

// SyntaxParser returns the semantic nodes of one source file
type SyntaxParser interface {
	Parse(ctx context.Context, src []byte) ([]Node, error)
}

// ParserProvider selects a SyntaxParser by file path
type ParserProvider interface {
	ParserFor(path string) (SyntaxParser, bool)
}

// ASTChunker emits one span per semantic syntax node. Files it cannot handle
// are passed to the fallback chunker whole.
type ASTChunker struct {
	parsers      ParserProvider
	fallback     Chunker
	windowLines  int
	maxNodeLines int
	logger       *slog.Logger
}

// NewASTChunker creates an AST chunker. Nodes longer than twice windowLines
// are split into windows of windowLines.
func NewASTChunker(parsers ParserProvider, fallback Chunker, windowLines int, logger *slog.Logger) *ASTChunker {
	if windowLines <= 0 {
		windowLines = DefaultChunkLines
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ASTChunker{
		parsers:      parsers,
		fallback:     fallback,
		windowLines:  windowLines,
		maxNodeLines: windowLines * 2,
		logger:       logger,
	}
}

// Chunk implements Chunker
func (c *ASTChunker) Chunk(content, path string) ([]types.Span, error) {
	parser, ok := c.parsers.ParserFor(path)
	if !ok {
		return c.fallback.Chunk(content, path)
	}

	spans, err := c.nodeSpans(parser, content)
	if err != nil {
		c.logger.Debug("syntax chunking failed, using lexical chunking", "file", path, "error", err)
		return c.fallback.Chunk(content, path)
	}
	if len(spans) == 0 {
		return c.fallback.Chunk(content, path)
	}
	return spans, nil
}

type lineRange struct {
	start, end int
}

func (c *ASTChunker) nodeSpans(parser SyntaxParser, content string) (spans []types.Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()

	nodes, err := parser.Parse(context.Background(), []byte(content))
	if err != nil {
		return nil, err
	}

	lines := splitLines(content)
	var ranges []lineRange
	for _, n := range nodes {
		start, end := n.StartLine, n.EndLine
		if start < 1 {
			start = 1
		}
		if end > len(lines) {
			end = len(lines)
		}
		if end-start+1 < MinNodeLines {
			continue
		}
		ranges = append(ranges, lineRange{start, end})
	}

	// Nested nodes are folded into their parents first; only then is an
	// oversized range cut into windows.
	for _, r := range mergeRanges(ranges) {
		if r.end-r.start+1 <= c.maxNodeLines {
			spans = appendSpan(spans, lines, r.start, r.end)
			continue
		}
		for s := r.start; s <= r.end; s += c.windowLines {
			e := s + c.windowLines - 1
			if e > r.end {
				e = r.end
			}
			spans = appendSpan(spans, lines, s, e)
		}
	}
	return spans, nil
}

// mergeRanges sorts by start line and folds every range that overlaps its
// predecessor into it
func mergeRanges(ranges []lineRange) []lineRange {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].start != ranges[j].start {
			return ranges[i].start < ranges[j].start
		}
		return ranges[i].end > ranges[j].end
	})

	merged := []lineRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
