package languages

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semsearch-mcp/internal/chunker"
	"github.com/dshills/semsearch-mcp/internal/tokenizer"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

func astChunker() chunker.Chunker {
	return chunker.New(chunker.Config{
		Mode:       chunker.ModeAST,
		Budget:     tokenizer.Budget{Target: 512, Overlap: 64},
		ChunkLines: 50,
		Parsers:    Default(),
	})
}

func ranges(spans []types.Span) [][2]int {
	out := make([][2]int, len(spans))
	for i, s := range spans {
		out[i] = [2]int{s.StartLine, s.EndLine}
	}
	return out
}

func TestDefaultRegistersAllLanguages(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"go", "javascript", "python", "tsx", "typescript"}, r.Languages())

	for _, path := range []string{"a.go", "a.py", "a.js", "a.jsx", "a.ts", "a.tsx"} {
		_, ok := r.ParserFor(path)
		assert.True(t, ok, path)
	}
	_, ok := r.ParserFor("a.rb")
	assert.False(t, ok)
}

func TestGoDeclarations(t *testing.T) {
	src := `package demo

import "fmt"

// Greet prints a greeting
func Greet(name string) {
	fmt.Println("Hello, " + name)
}

type Point struct {
	X, Y int
}

func (p Point) Sum() int {
	return p.X + p.Y
}
`
	spans, err := astChunker().Chunk(src, "/ws/demo.go")
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{6, 8}, {10, 12}, {14, 16}}, ranges(spans))
	assert.True(t, strings.HasPrefix(spans[0].Content, "func Greet"))
}

func TestPythonNestedDefinitionsMerge(t *testing.T) {
	src := `import os


class Greeter:
    def __init__(self, name):
        self.name = name

    def greet(self):
        return "hello " + self.name
`
	spans, err := astChunker().Chunk(src, "/ws/greeter.py")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 4, spans[0].StartLine)
	assert.GreaterOrEqual(t, spans[0].EndLine, 9)
	assert.Contains(t, spans[0].Content, "def greet")
}

func TestJavaScriptFunction(t *testing.T) {
	var b strings.Builder
	b.WriteString("// helpers\n")
	b.WriteString("function sumAll(values) {\n")
	for i := 0; i < 10; i++ {
		b.WriteString("  total = total + values[index];\n")
	}
	b.WriteString("  return total;\n")
	b.WriteString("}\n")
	src := b.String()

	spans, err := astChunker().Chunk(src, "/ws/a.js")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, [2]int{2, 14}, [2]int{spans[0].StartLine, spans[0].EndLine})
}

func TestTypeScriptInterface(t *testing.T) {
	src := `export interface Options {
  name: string;
  retries: number;
}
`
	spans, err := astChunker().Chunk(src, "/ws/options.ts")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].StartLine)
	assert.Equal(t, 4, spans[0].EndLine)
}

func TestUnsupportedLanguageFallsBack(t *testing.T) {
	src := "class Widget\n  def render\n    puts 'drawing the widget'\n  end\nend\n"

	spans, err := astChunker().Chunk(src, "/ws/widget.rb")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].StartLine)
}

func TestGoFileWithoutMultiLineNodesFallsBack(t *testing.T) {
	src := "package demo\n\nvar answerToEverything = 42\n"

	spans, err := astChunker().Chunk(src, "/ws/answer.go")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, strings.TrimSuffix(src, "\n"), spans[0].Content)
	assert.Equal(t, 3, spans[0].EndLine)
}

func TestLargePythonClassIsSplitIntoWindows(t *testing.T) {
	var b strings.Builder
	b.WriteString("class Big:\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "    def method_%02d(self, value):\n", i)
		b.WriteString("        doubled = value * 2 + self.offset\n")
		b.WriteString("        shifted = doubled - self.scale\n")
		b.WriteString("        self.history.append(shifted)\n")
		b.WriteString("        self.total = self.total + shifted\n")
		b.WriteString("        self.count = self.count + 1\n")
		b.WriteString("        return self.total / self.count\n")
		b.WriteString("\n")
	}
	src := b.String()
	lineCount := strings.Count(src, "\n")
	require.Greater(t, lineCount, 100)

	spans, err := astChunker().Chunk(src, "/ws/big.py")
	require.NoError(t, err)
	require.Greater(t, len(spans), 1)

	assert.Equal(t, 1, spans[0].StartLine)
	for _, s := range spans {
		assert.LessOrEqual(t, s.Lines(), 50, "span %d-%d", s.StartLine, s.EndLine)
	}
	last := spans[len(spans)-1].EndLine
	assert.LessOrEqual(t, last, lineCount)
	assert.Greater(t, last, lineCount-8)
}
