package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/repoqa/pkg/types"
)

// ExternalConfig selects an external backend. Endpoint is a host:port for
// qdrant and a database file path for sqlite.
type ExternalConfig struct {
	Kind     string
	Project  string
	Index    string
	Endpoint string
}

// Collection is the collection name derived from project and index.
func (c ExternalConfig) Collection() string {
	if c.Project == "" {
		return c.Index
	}
	return c.Project + "_" + c.Index
}

// Validate reports missing fields as types.ErrNotConfigured.
func (c ExternalConfig) Validate() error {
	var missing []string
	switch strings.ToLower(c.Kind) {
	case KindQdrant, KindSQLite:
	case "":
		missing = append(missing, "kind")
	default:
		return fmt.Errorf("%w: unknown external backend %q", types.ErrNotConfigured, c.Kind)
	}
	if c.Index == "" {
		missing = append(missing, "index")
	}
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: external vector backend missing %s", types.ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

type storeKey struct {
	kind, project, index, endpoint string
}

// Opener builds an external store for a validated config.
type Opener func(ctx context.Context, cfg ExternalConfig) (Store, error)

// Factory creates stores. External stores are process-wide singletons
// keyed by (kind, project, index, endpoint).
type Factory struct {
	mu      sync.Mutex
	stores  map[storeKey]Store
	openers map[string]Opener
}

// NewFactory returns a Factory with the qdrant and sqlite openers.
func NewFactory() *Factory {
	return &Factory{
		stores: make(map[storeKey]Store),
		openers: map[string]Opener{
			KindQdrant: func(_ context.Context, cfg ExternalConfig) (Store, error) {
				return NewQdrant(cfg.Endpoint, cfg.Collection())
			},
			KindSQLite: func(ctx context.Context, cfg ExternalConfig) (Store, error) {
				return NewSQLite(ctx, cfg.Endpoint, cfg.Collection())
			},
		},
	}
}

// Register replaces the opener for kind.
func (f *Factory) Register(kind string, open Opener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openers[strings.ToLower(kind)] = open
}

// InMemory returns a fresh Memory store.
func (f *Factory) InMemory() Store {
	return NewMemory()
}

// External returns the shared store for cfg, opening it on first use.
func (f *Factory) External(ctx context.Context, cfg ExternalConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind := strings.ToLower(cfg.Kind)
	key := storeKey{kind, cfg.Project, cfg.Index, cfg.Endpoint}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[key]; ok {
		return s, nil
	}
	open, ok := f.openers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no opener for %q", types.ErrNotConfigured, kind)
	}
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f.stores[key] = s
	return s, nil
}

// Close closes every cached external store.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for k, s := range f.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s %s: %w", k.kind, k.index, err))
		}
		delete(f.stores, k)
	}
	return errors.Join(errs...)
}
