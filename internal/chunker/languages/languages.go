// Package languages registers the tree-sitter grammars used for syntax-aware chunking.
package languages

import "github.com/dshills/semsearch-mcp/internal/chunker"

// RegisterAll registers every supported grammar
func RegisterAll(r *chunker.Registry) {
	RegisterGo(r)
	RegisterPython(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
}

// Default returns a registry with every supported grammar
func Default() *chunker.Registry {
	r := chunker.NewRegistry()
	RegisterAll(r)
	return r
}
