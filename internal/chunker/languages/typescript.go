package languages

import (
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/semsearch-mcp/internal/chunker"
)

var typeScriptNodes = []string{
	"function_declaration",
	"generator_function_declaration",
	"class_declaration",
	"abstract_class_declaration",
	"method_definition",
	"arrow_function",
	"interface_declaration",
	"type_alias_declaration",
	"enum_declaration",
}

// RegisterTypeScript registers the TypeScript and TSX grammars
func RegisterTypeScript(r *chunker.Registry) {
	r.Register("typescript", &chunker.LanguageSpec{
		Language:   typescript.GetLanguage(),
		NodeTypes:  typeScriptNodes,
		Extensions: []string{"ts", "mts", "cts"},
	})
	r.Register("tsx", &chunker.LanguageSpec{
		Language:   tsx.GetLanguage(),
		NodeTypes:  typeScriptNodes,
		Extensions: []string{"tsx"},
	})
}
