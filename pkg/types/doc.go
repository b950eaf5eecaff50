// Package types provides the shared data model for repoqa.
//
// The types in this package flow through every stage of the pipeline:
//
//	repoio → chunker → sizer → policy → embedder/vectorstore → retriever → evidence
//
// # Core Types
//
// Chunk is a bounded, immutable excerpt of one file and the unit of
// retrieval. Its ID is stable across ingests of the same snapshot:
//
//	id := types.ChunkID("myrepo", "a1b2c3d", "src/app.py", 1, 20)
//	// "myrepo:a1b2c3d:src/app.py#1-20"
//
// CodeMap is the repository-level index of files, per-file imports and
// the symbol → paths mapping. It is built once per ingest and read-only
// afterwards.
//
// SizerReport and Decision carry the repository metrics and the
// vectorization decision derived from them.
//
// RetrievalResult and DocItem are what the retriever and the evidence
// assembler hand back to callers.
//
// # Errors
//
// errors.go declares one sentinel per error kind. Callers classify
// wrapped errors with errors.Is, and Kind maps an error to its kind name
// for status logs.
package types
