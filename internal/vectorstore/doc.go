// Package vectorstore provides the pluggable dense-vector index behind the
// hybrid retriever.
//
// Every backend implements Store:
//
//	Upsert(ctx, namespace, items)                         // items carry id, vector, metadata
//	Query(ctx, namespace, vector, topK)                   // best matches first
//	QueryFiltered(ctx, namespace, vector, topK, filter)   // metadata key/value restrictions
//
// Three backends exist:
//
//   - Memory keeps vectors in process and scores with cosine similarity.
//   - Qdrant talks to a Qdrant server over gRPC (Euclid distance).
//   - SQLite persists vectors in a local database file (L2 distance).
//
// The external backends convert a distance d to a similarity 1/(1+d) and
// restrict queries to one namespace through a payload filter, adding one
// keyword condition per Filter key on Qdrant. Their
// failures wrap types.ErrBackendUnavailable so callers can degrade.
//
// # Build Modes
//
// The SQLite backend links a pure Go driver (modernc.org/sqlite) by
// default. Build with the sqlite_cgo tag to use mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
//
// A Factory hands out a fresh Memory store per call and caches external
// stores per (kind, project, index, endpoint).
package vectorstore
