package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semsearch-mcp/internal/tokenizer"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

func lexical(target, overlap int) *LexicalChunker {
	return NewLexicalChunker(tokenizer.New(tokenizer.Budget{Target: target, Overlap: overlap}))
}

// twoFuncs has two 7-line functions; each body line estimates to 11 tokens
// and the first function totals 62 tokens.
const twoFuncs = "func first() {\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"}\n" +
	"func second() {\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"\tresult := computeSomething(alpha, beta)\n" +
	"}\n"

func TestLexicalSmallFileIsOneSpan(t *testing.T) {
	content := "package main\n\nfunc main() {\n\tprintln(\"hello world\")\n}\n"

	spans, err := lexical(512, 64).Chunk(content, "/ws/main.go")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, types.Span{StartLine: 1, EndLine: 5, Content: strings.TrimSuffix(content, "\n")}, spans[0])
}

func TestLexicalDropsTinyChunks(t *testing.T) {
	spans, err := lexical(512, 64).Chunk("x := 1\n", "/ws/tiny.go")
	require.NoError(t, err)
	assert.Empty(t, spans)

	spans, err = lexical(512, 64).Chunk("", "/ws/empty.go")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestLexicalSplitsOnBoundary(t *testing.T) {
	spans, err := lexical(100, 0).Chunk(twoFuncs, "/ws/funcs.go")
	require.NoError(t, err)
	require.Len(t, spans, 2)

	assert.Equal(t, 1, spans[0].StartLine)
	assert.Equal(t, 7, spans[0].EndLine)
	assert.Equal(t, 8, spans[1].StartLine)
	assert.True(t, strings.HasPrefix(spans[1].Content, "func second()"))
	assertRoundTrip(t, twoFuncs, spans)
}

func TestLexicalWithoutPatternSplitsOnBudget(t *testing.T) {
	// The generic pattern does not know "func", so the split falls mid-function
	spans, err := lexical(100, 0).Chunk(twoFuncs, "/ws/funcs.txt")
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	assert.Equal(t, 11, spans[0].EndLine)
}

func TestLexicalRespectsBudget(t *testing.T) {
	content := numberedLines(100)
	spans, err := lexical(100, 0).Chunk(content, "/ws/data.txt")
	require.NoError(t, err)
	require.Greater(t, len(spans), 1)

	lines := strings.Split(content, "\n")
	covered := 0
	for _, s := range spans {
		total := 0
		for _, n := range tokenizer.EstimateLines(lines[s.StartLine-1 : s.EndLine]) {
			total += n
		}
		assert.LessOrEqual(t, total, 100)
		covered += s.Lines()
	}
	// No overlap budget: spans tile the file exactly
	assert.Equal(t, len(lines), covered)
	assertRoundTrip(t, content, spans)
}

func TestLexicalCarriesOverlap(t *testing.T) {
	content := numberedLines(60)
	spans, err := lexical(100, 25).Chunk(content, "/ws/data.txt")
	require.NoError(t, err)
	require.Greater(t, len(spans), 1)

	for i := 1; i < len(spans); i++ {
		assert.Less(t, spans[i].StartLine, spans[i-1].EndLine+1, "span %d should start inside span %d", i, i-1)
		assert.Greater(t, spans[i].StartLine, spans[i-1].StartLine)
	}
	assert.Equal(t, 60, spans[len(spans)-1].EndLine)
}

func TestBoundaryPattern(t *testing.T) {
	tests := []struct {
		path string
		line string
		want bool
	}{
		{"a.go", "func main() {", true},
		{"a.go", "type Server struct {", true},
		{"a.go", "\treturn nil", false},
		{"a.js", "export async function load() {", true},
		{"a.js", "const handler = async (req) => {", true},
		{"a.ts", "export interface Options {", true},
		{"a.py", "    def method(self):", true},
		{"a.py", "@dataclass", true},
		{"a.py", "    return value", false},
		{"A.JAVA", "public static void main(String[] args) {", true},
		{"a.java", "return compute(x);", false},
		{"a.rs", "pub fn parse(input: &str) -> Result<()> {", true},
		{"a.rb", "def call", true},
		{"a.php", "public function handle()", true},
		{"a.swift", "struct Point {", true},
		{"a.unknown", "class Widget", true},
		{"a.unknown", "let x = 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, BoundaryPattern(tt.path).MatchString(tt.line))
		})
	}
}
