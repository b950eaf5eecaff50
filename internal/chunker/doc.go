// Package chunker splits source files into bounded, overlapping,
// structure-respecting chunks.
//
// # Sizing
//
// Chunks target TargetSize characters and never exceed SoftCap
// (types.MaxChunkChars). Adjacent structural blocks are fused while the
// result stays within TargetSize. A block above SoftCap is split into
// line windows of TargetSize/80 lines overlapping by OverlapSize/80
// lines; windows also stop early when the next line would break the
// cap. Languages without a structural splitter, and Python files that do
// not parse, are split into line windows directly.
//
// Markdown sections are fused the same way, except that every H1 starts
// a new chunk.
//
// # Invariants
//
// Every emitted chunk has 1 <= StartLine <= EndLine, non-blank text of at
// most SoftCap characters, and a hash computed over right-trimmed lines.
// Leading and trailing blank lines are trimmed from each chunk, so files
// containing only whitespace produce no chunks at all.
//
// # Neighbors
//
// AssignNeighbors links each chunk to the adjacent chunks of its file and
// to the first chunk of every file its file imports, as resolved by the
// CodeMap.
package chunker
