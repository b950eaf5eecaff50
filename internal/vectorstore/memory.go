package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/repoqa/pkg/types"
)

// KindMemory names the in-process backend.
const KindMemory = "memory"

type memEntry struct {
	id     string
	vector []float32
	meta   map[string]string
}

type memNamespace struct {
	entries []memEntry
	index   map[string]int
}

// Memory is an in-process Store scored by cosine similarity.
type Memory struct {
	mu  sync.RWMutex
	nss map[string]*memNamespace
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{nss: make(map[string]*memNamespace)}
}

func (m *Memory) Kind() string { return KindMemory }

// Upsert inserts items or replaces those whose id already exists.
func (m *Memory) Upsert(ctx context.Context, namespace string, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.nss[namespace]
	if !ok {
		ns = &memNamespace{index: make(map[string]int)}
		m.nss[namespace] = ns
	}
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("%w: vector item without id", types.ErrInvalidChunk)
		}
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		e := memEntry{id: it.ID, vector: vec, meta: copyMeta(it.Metadata)}
		if i, exists := ns.index[it.ID]; exists {
			ns.entries[i] = e
			continue
		}
		ns.index[it.ID] = len(ns.entries)
		ns.entries = append(ns.entries, e)
	}
	return nil
}

// Query scores every vector in namespace against vector.
func (m *Memory) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	return m.QueryFiltered(ctx, namespace, vector, topK, nil)
}

// QueryFiltered is Query restricted to entries whose metadata matches filter.
func (m *Memory) QueryFiltered(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.nss[namespace]
	if !ok {
		return nil, nil
	}
	out := make([]Match, 0, len(ns.entries))
	for _, e := range ns.entries {
		if len(e.vector) != len(vector) || !filter.Matches(e.meta) {
			continue
		}
		out = append(out, Match{ID: e.id, Score: CosineSimilarity(vector, e.vector), Metadata: copyMeta(e.meta)})
	}
	sortMatches(out)
	return limit(out, topK), nil
}

// Len returns the number of vectors in namespace.
func (m *Memory) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ns, ok := m.nss[namespace]; ok {
		return len(ns.entries)
	}
	return 0
}

// Vectors returns the ids and vectors of namespace in insertion order.
func (m *Memory) Vectors(namespace string) ([]string, [][]float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.nss[namespace]
	if !ok {
		return nil, nil
	}
	ids := make([]string, len(ns.entries))
	vecs := make([][]float32, len(ns.entries))
	for i, e := range ns.entries {
		ids[i] = e.id
		vecs[i] = append([]float32(nil), e.vector...)
	}
	return ids, vecs
}

func (m *Memory) Close() error { return nil }
