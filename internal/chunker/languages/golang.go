package languages

import (
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/dshills/semsearch-mcp/internal/chunker"
)

// RegisterGo registers the Go grammar
func RegisterGo(r *chunker.Registry) {
	r.Register("go", &chunker.LanguageSpec{
		Language: golang.GetLanguage(),
		NodeTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
			"const_declaration",
			"var_declaration",
		},
		Extensions: []string{"go"},
	})
}
