package languages

import (
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/dshills/semsearch-mcp/internal/chunker"
)

// RegisterJavaScript registers the JavaScript grammar
func RegisterJavaScript(r *chunker.Registry) {
	r.Register("javascript", &chunker.LanguageSpec{
		Language: javascript.GetLanguage(),
		NodeTypes: []string{
			"function_declaration",
			"generator_function_declaration",
			"class_declaration",
			"method_definition",
			"arrow_function",
			"function_expression",
		},
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
	})
}
