// Package indexer turns a repository checkout into chunks and a CodeMap,
// and embeds chunk text for the vector index.
//
// Ingest runs linearly over the included files:
//
//  1. Discovery: repoio.ListSourceFiles with include/exclude globs
//  2. Read: repoio.ReadTextFile; unreadable files are skipped and logged
//  3. Chunk: structure-aware windows from the chunker
//  4. CodeMap: per-file imports and the symbol index
//  5. Neighbors: adjacency and import links between chunks
//
// A file that fails to read never aborts the run; it is counted in
// Statistics.FilesSkipped and its error kept in ErrorMessages.
//
// Embed filters blank chunk text before calling the embedding client, so
// the client never sees an empty or whitespace-only string.
//
//	idx := indexer.New()
//	res, err := idx.Ingest(ctx, "/path/to/repo", indexer.Options{})
//	if err != nil {
//	    return err
//	}
//	chunks, vectors, err := indexer.Embed(ctx, client, res.Chunks, 768)
package indexer
