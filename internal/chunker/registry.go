package chunker

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// LanguageSpec defines the tree-sitter grammar and the node types that become chunks
type LanguageSpec struct {
	Language   *sitter.Language
	NodeTypes  []string
	Extensions []string // without the leading dot
}

// Registry maps file extensions to language specs
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*LanguageSpec // extension (without dot) -> spec
	names map[*LanguageSpec]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]*LanguageSpec),
		names: make(map[*LanguageSpec]string),
	}
}

// Register adds a language spec under the given name
func (r *Registry) Register(name string, spec *LanguageSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[spec] = name
	for _, ext := range spec.Extensions {
		r.specs[strings.ToLower(ext)] = spec
	}
}

// Lookup returns the LanguageSpec for a file path based on its extension, or nil
func (r *Registry) Lookup(path string) (spec *LanguageSpec, lang string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[ext]
	if !ok {
		return nil, ""
	}
	return s, r.names[s]
}

// ParserFor implements ParserProvider
func (r *Registry) ParserFor(path string) (SyntaxParser, bool) {
	spec, _ := r.Lookup(path)
	if spec == nil {
		return nil, false
	}
	return NewTreeSitterParser(spec), true
}

// Languages returns the registered language names, sorted
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
