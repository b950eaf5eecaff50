package retriever

import (
	"context"
	"fmt"

	"github.com/dshills/repoqa/pkg/types"
)

// Snapshot is the serializable state of a built Retriever. Vectors are
// carried only for the in-memory backend, read back from the store; an
// external store already holds them under Namespace.
type Snapshot struct {
	Chunks      []types.Chunk  `json:"chunks"`
	Vectors     [][]float32    `json:"vectors,omitempty"`
	VectorCount int            `json:"vector_count"`
	CodeMap     *types.CodeMap `json:"code_map,omitempty"`
	Backend     types.Backend  `json:"backend"`
	Namespace   string         `json:"namespace"`
}

// Snapshot captures the retriever's index.
func (r *Retriever) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{
		Chunks:    r.chunks,
		CodeMap:   r.opts.CodeMap,
		Backend:   r.opts.Backend,
		Namespace: r.opts.Namespace,
	}
	if !r.hasVector {
		return s
	}
	if r.opts.Backend == types.BackendExternal {
		s.VectorCount = len(r.chunks)
		return s
	}
	if vecs := r.exportVectors(); vecs != nil {
		s.VectorCount = len(vecs)
		s.Vectors = vecs
	}
	return s
}

// vectorExporter is implemented by stores that can hand back their vectors.
type vectorExporter interface {
	Vectors(namespace string) ([]string, [][]float32)
}

// exportVectors reads the namespace's vectors back from the store in chunk
// order. It returns nil when the store cannot export them or any chunk is
// missing, and the snapshot then restores as BM25-only.
func (r *Retriever) exportVectors() [][]float32 {
	ex, ok := r.opts.Store.(vectorExporter)
	if !ok {
		return nil
	}
	ids, vecs := ex.Vectors(r.opts.Namespace)
	byID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		byID[id] = vecs[i]
	}
	out := make([][]float32, len(r.chunks))
	for i, c := range r.chunks {
		v, ok := byID[c.ID]
		if !ok {
			return nil
		}
		out[i] = v
	}
	return out
}

// Restore rebuilds a Retriever from a snapshot. opts supplies the live
// dependencies (embedder, store, reranker); the snapshot's backend,
// namespace and code map override the corresponding options.
func Restore(ctx context.Context, snap *Snapshot, opts Options) (*Retriever, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", types.ErrInvalidState)
	}
	opts.Backend = snap.Backend
	opts.Namespace = snap.Namespace
	opts.CodeMap = snap.CodeMap
	r := New(opts)

	switch {
	case snap.VectorCount == 0:
		return r, r.IndexChunks(ctx, snap.Chunks, nil)
	case snap.Backend == types.BackendExternal:
		if err := r.IndexChunks(ctx, snap.Chunks, nil); err != nil {
			return nil, err
		}
		r.attachVectors()
		return r, nil
	default:
		if err := r.IndexChunks(ctx, snap.Chunks, snap.Vectors); err != nil {
			return nil, fmt.Errorf("restore vectors: %w", err)
		}
		return r, nil
	}
}
