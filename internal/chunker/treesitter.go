package chunker

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// TreeSitterParser collects nodes of a LanguageSpec's semantic types with an
// explicit stack walk over the tree-sitter syntax tree
type TreeSitterParser struct {
	language *sitter.Language
	want     map[string]bool
}

// NewTreeSitterParser creates a parser for one language spec
func NewTreeSitterParser(spec *LanguageSpec) *TreeSitterParser {
	want := make(map[string]bool, len(spec.NodeTypes))
	for _, t := range spec.NodeTypes {
		want[t] = true
	}
	return &TreeSitterParser{language: spec.Language, want: want}
}

// Parse implements SyntaxParser. Nodes are returned in document order.
func (p *TreeSitterParser) Parse(ctx context.Context, src []byte) ([]Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(p.language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	var nodes []Node
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}

		if p.want[n.Type()] {
			nodes = append(nodes, Node{
				Type:      n.Type(),
				StartLine: int(n.StartPoint().Row) + 1,
				EndLine:   int(n.EndPoint().Row) + 1,
			})
		}

		// Push children in reverse so they pop in source order
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
	return nodes, nil
}
