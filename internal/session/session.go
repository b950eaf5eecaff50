// Package session holds the built retriever of each session.
//
// Two stores implement Store: Memory keeps retrievers in a process-local
// map, and Redis additionally persists a snapshot of each retriever so
// another process (or this one after a restart) can rebuild it.
package session

import (
	"context"
	"sync"

	"github.com/dshills/repoqa/internal/retriever"
	"github.com/dshills/repoqa/pkg/types"
)

// Store is a process-wide registry of retrievers keyed by session id.
// Implementations are safe for concurrent use.
type Store interface {
	// Put registers r under id, replacing any previous retriever.
	Put(ctx context.Context, id string, r *retriever.Retriever) error
	// Get returns the retriever for id or types.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*retriever.Retriever, error)
	// Drop releases id. Dropping an unknown id is a no-op.
	Drop(ctx context.Context, id string) error
	Close() error
}

// Memory is a Store backed by a map.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*retriever.Retriever
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*retriever.Retriever)}
}

func (m *Memory) Put(_ context.Context, id string, r *retriever.Retriever) error {
	m.mu.Lock()
	m.items[id] = r
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*retriever.Retriever, error) {
	m.mu.RLock()
	r, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return r, nil
}

func (m *Memory) Drop(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of registered sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	clear(m.items)
	m.mu.Unlock()
	return nil
}
