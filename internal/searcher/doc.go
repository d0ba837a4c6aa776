// Package searcher answers natural-language queries against the chunk store.
//
// A query is embedded with the same embedder used for indexing (query vectors
// are kept in an LRU cache) and every stored chunk is scored:
//
//	score = semantic_weight*cosine + (1-semantic_weight)*term_overlap + exact_match_boost*exact
//
// cosine is 0 for zero-norm or mismatched vectors. term_overlap is the share of
// distinct query terms found in the chunk content or its file name. exact is 1
// when the lowercased, whitespace-collapsed query occurs in the chunk content.
//
// Results are ordered by score, then file path, then start line, and cut to
// top-K (default 5, at most 100). Searching while an indexing run is writing
// is allowed; the response is then flagged Partial.
package searcher
