// Package chunker splits source files into line spans for embedding.
//
// Three strategies implement the Chunker interface:
//
//   - LexicalChunker ("smart") accumulates per-line token estimates and closes
//     a span when the next line would overflow the token budget, or when a
//     language boundary pattern (func, class, def, ...) opens a new definition
//     while the span is over 60% full and longer than 3 lines. The tail of a
//     closed span that fits the overlap budget is repeated at the start of the
//     next one.
//   - ASTChunker ("ast") parses the file with a tree-sitter grammar chosen by
//     extension, keeps nodes of the language's semantic types that span at
//     least 2 lines, splits oversized nodes into fixed line windows and merges
//     overlapping ranges. Unsupported files, parse failures and files without
//     usable nodes are handed to the lexical chunker whole.
//   - LineChunker ("line") emits fixed windows of lines with a fixed overlap.
//
// Spans with fewer than 20 non-whitespace characters are dropped by every
// strategy. Span content is always the exact text of its 1-indexed inclusive
// line range, so a span can be re-sliced from the file it came from.
//
// Usage:
//
//	c := chunker.New(chunker.Config{
//	    Mode:    chunker.ModeAST,
//	    Budget:  tokenizer.BudgetForModel(model, 0, 0),
//	    Parsers: languages.Default(),
//	})
//	spans, err := c.Chunk(string(src), path)
package chunker
