package chunker

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/semsearch-mcp/internal/tokenizer"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// boundaryPatterns match lines that open a new definition, keyed by extension
var boundaryPatterns = map[string]*regexp.Regexp{}

// genericBoundary is used for extensions without a dedicated pattern
var genericBoundary = regexp.MustCompile(`^\s*(function|class|struct|def|fn)\b`)

func init() {
	register := func(pattern string, exts ...string) {
		re := regexp.MustCompile(pattern)
		for _, ext := range exts {
			boundaryPatterns[ext] = re
		}
	}

	register(`^\s*(func|type)\s`, ".go")
	register(`^\s*(export\s+)?(default\s+)?(async\s+)?(function\*?|class)\b|^\s*(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?(\(|function)`,
		".js", ".jsx", ".mjs", ".cjs")
	register(`^\s*(export\s+)?(default\s+)?(abstract\s+)?(async\s+)?(function\*?|class|interface|type|enum)\b|^\s*(export\s+)?(const|let)\s+\w+\s*=\s*(async\s+)?\(`,
		".ts", ".tsx")
	register(`^\s*(async\s+)?(def|class)\s|^\s*@\w+`, ".py", ".pyi")
	register(`^\s*((public|private|protected|internal|static|final|abstract|open|data|sealed|override|suspend|synchronized)\s+)*(class|interface|enum|record|fun|object)\b|^\s*((public|private|protected|static|final|abstract|synchronized)\s+)+[\w<>\[\], ]+\s+\w+\s*\(`,
		".java", ".kt", ".kts")
	register(`^(static\s+|inline\s+|extern\s+)*(struct|class|namespace|enum|union|template)\b|^[A-Za-z_][\w:<>\*& ]*\s[\*&]*[\w:~]+\s*\([^;]*$`,
		".c", ".h", ".cc", ".cpp", ".cxx", ".hpp", ".hh")
	register(`^\s*((public|private|protected|internal|static|sealed|abstract|partial|async|override|virtual)\s+)*(class|interface|struct|enum|record|namespace)\b|^\s*((public|private|protected|internal|static)\s+)+[\w<>\[\], ]+\s+\w+\s*\(`,
		".cs")
	register(`^\s*(pub(\([^)]*\))?\s+)?(async\s+)?(unsafe\s+)?(fn|struct|enum|trait|impl|mod)\b`, ".rs")
	register(`^\s*(def|class|module)\s`, ".rb")
	register(`^\s*(abstract\s+|final\s+)?(public\s+|private\s+|protected\s+)?(static\s+)?(function|class|interface|trait)\b`, ".php")
	register(`^\s*(public\s+|private\s+|internal\s+|open\s+|fileprivate\s+)?(static\s+)?(func|class|struct|enum|protocol|extension)\b`, ".swift")
}

// BoundaryPattern returns the definition pattern used for a file path
func BoundaryPattern(path string) *regexp.Regexp {
	if re, ok := boundaryPatterns[strings.ToLower(filepath.Ext(path))]; ok {
		return re
	}
	return genericBoundary
}

// LexicalChunker splits content on a token budget, preferring definition
// boundaries once a chunk is well filled.
type LexicalChunker struct {
	estimator *tokenizer.Estimator
}

// NewLexicalChunker creates a lexical chunker using the estimator's budget
func NewLexicalChunker(estimator *tokenizer.Estimator) *LexicalChunker {
	return &LexicalChunker{estimator: estimator}
}

// Chunk implements Chunker
func (c *LexicalChunker) Chunk(content, path string) ([]types.Span, error) {
	lines := splitLines(content)
	pattern := BoundaryPattern(path)

	windows := c.estimator.Boundaries(tokenizer.EstimateLines(lines), func(i int) bool {
		return pattern.MatchString(lines[i])
	})

	spans := make([]types.Span, 0, len(windows))
	for _, w := range windows {
		spans = appendSpan(spans, lines, w.Start+1, w.End)
	}
	return spans, nil
}
