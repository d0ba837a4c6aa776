package chunker

import (
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/dshills/semsearch-mcp/internal/tokenizer"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// Mode selects the chunking strategy
type Mode string

const (
	// ModeSmart splits on token budget and language boundary patterns
	ModeSmart Mode = "smart"
	// ModeAST splits on syntax tree nodes and falls back to ModeSmart
	ModeAST Mode = "ast"
	// ModeLine emits fixed windows of lines
	ModeLine Mode = "line"
)

const (
	// MinSignificantChars is the minimum number of non-whitespace characters a chunk needs
	MinSignificantChars = 20

	// DefaultChunkLines is the line window used by ModeLine and AST node splitting
	DefaultChunkLines = 50

	// DefaultOverlapLines is the line overlap used by ModeLine
	DefaultOverlapLines = 10
)

// Chunker splits file content into line spans
type Chunker interface {
	Chunk(content, path string) ([]types.Span, error)
}

// Config controls strategy selection
type Config struct {
	Mode         Mode
	Budget       tokenizer.Budget
	ChunkLines   int
	OverlapLines int
	Parsers      ParserProvider // used by ModeAST; nil means every file falls back
	Logger       *slog.Logger
}

// New builds the chunker for cfg.Mode. Unknown modes use ModeSmart.
func New(cfg Config) Chunker {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	lexical := NewLexicalChunker(tokenizer.New(cfg.Budget))

	switch cfg.Mode {
	case ModeLine:
		return NewLineChunker(cfg.ChunkLines, cfg.OverlapLines)
	case ModeAST:
		parsers := cfg.Parsers
		if parsers == nil {
			parsers = NewRegistry()
		}
		return NewASTChunker(parsers, lexical, cfg.ChunkLines, cfg.Logger)
	default:
		return lexical
	}
}

// splitLines splits content on newlines. A trailing newline terminates the
// last line rather than opening an empty one, so line numbers match editors.
func splitLines(content string) []string {
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// significant reports whether content has at least MinSignificantChars
// non-whitespace characters
func significant(content string) bool {
	n := 0
	for _, r := range content {
		if !unicode.IsSpace(r) {
			n++
			if n >= MinSignificantChars {
				return true
			}
		}
	}
	return false
}

// appendSpan re-slices lines for the 1-indexed range and appends the span if
// it carries enough content
func appendSpan(spans []types.Span, lines []string, startLine, endLine int) []types.Span {
	content := types.SliceLines(lines, startLine, endLine)
	if !significant(content) {
		return spans
	}
	return append(spans, types.Span{StartLine: startLine, EndLine: endLine, Content: content})
}
