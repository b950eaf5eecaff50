// Package retriever implements hybrid lexical and dense search over the
// chunks of one session.
//
// A Retriever keeps the chunk list, an Okapi BM25 index and, when
// embeddings were computed, a vectorstore namespace holding one vector
// per chunk. Search runs in one of three modes:
//
//	bm25    lexical only
//	vector  cosine similarity only (falls back to bm25 when unavailable)
//	hybrid  both lists fused by reciprocal rank fusion (default)
//
// In hybrid mode a small name bonus is added after fusion so that
// READMEs, manifests and entry points surface for overview questions.
// This is a post-fusion re-ranking step and not part of RRF itself.
//
// The top results are then optionally rescored by a Reranker and
// expanded with neighbor chunks: adjacent chunks of the same file and
// the first chunk of files linked through the CodeMap import graph.
// Expansion always runs locally, whichever vector backend is in use.
//
// Failures of the vector path (query embedding, backend errors, timeouts)
// and of the reranker never fail a search. They degrade to the simpler
// ranking and are reported in SearchResponse.Notes.
package retriever
