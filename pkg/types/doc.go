// Package types provides the domain types shared by the semsearch packages.
//
// # Chunk identity
//
// A stored chunk is identified by ChunkKey, the composite of its absolute
// file path and its inclusive 1-indexed line range:
//
//	key := types.ChunkKey{File: "/repo/a.js", StartLine: 1, EndLine: 40}
//	fmt.Println(key) // /repo/a.js:1-40
//
// Span is what a chunker produces (text plus line range); Chunk is a Span
// that has been embedded and carries its vector.
//
// # Indexing status
//
// IndexingStatus is the transient, in-memory description of a running
// indexing pass. The ranker reads it to flag partial results.
package types
