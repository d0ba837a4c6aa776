package languages

import (
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/semsearch-mcp/internal/chunker"
)

// RegisterPython registers the Python grammar
func RegisterPython(r *chunker.Registry) {
	r.Register("python", &chunker.LanguageSpec{
		Language: python.GetLanguage(),
		NodeTypes: []string{
			"function_definition",
			"class_definition",
			"decorated_definition",
		},
		Extensions: []string{"py", "pyi"},
	})
}
