package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/repoqa/internal/retriever"
	"github.com/dshills/repoqa/pkg/types"
)

// DefaultTTL is how long an idle session snapshot is kept.
const DefaultTTL = 24 * time.Hour

// RestoreFunc rebuilds a retriever from a snapshot, wiring in live
// dependencies such as the embedder and vector store.
type RestoreFunc func(ctx context.Context, snap *retriever.Snapshot) (*retriever.Retriever, error)

// RedisConfig configures a Redis store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
	Restore   RestoreFunc
	Logger    *slog.Logger
}

// Redis is a Store that keeps live retrievers locally and a JSON snapshot
// of each in redis with a sliding TTL. A local miss rebuilds the
// retriever from its snapshot; concurrent misses for one id share a
// single rebuild.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	prefix  string
	restore RestoreFunc
	logger  *slog.Logger

	local *Memory
	group singleflight.Group
}

// NewRedis connects to redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is empty", types.ErrNotConfigured)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", types.ErrBackendUnavailable, cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "repoqa:session:"
	}
	if cfg.Restore == nil {
		cfg.Restore = func(ctx context.Context, snap *retriever.Snapshot) (*retriever.Retriever, error) {
			return retriever.Restore(ctx, snap, retriever.Options{})
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Redis{
		client:  client,
		ttl:     cfg.TTL,
		prefix:  cfg.KeyPrefix,
		restore: cfg.Restore,
		logger:  logger,
		local:   NewMemory(),
	}
}

func (s *Redis) key(id string) string { return s.prefix + id }

// Put stores a snapshot of r in redis, then registers r locally.
func (s *Redis) Put(ctx context.Context, id string, r *retriever.Retriever) error {
	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: store session %s: %w", types.ErrBackendUnavailable, id, err)
	}
	return s.local.Put(ctx, id, r)
}

// Get returns the local retriever for id, rebuilding it from redis when
// this process has not seen it. Each hit slides the TTL.
func (s *Redis) Get(ctx context.Context, id string) (*retriever.Retriever, error) {
	if r, err := s.local.Get(ctx, id); err == nil {
		if err := s.client.Expire(ctx, s.key(id), s.ttl).Err(); err != nil {
			s.logger.Warn("refresh session ttl failed", "session", id, "error", err)
		}
		return r, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		if r, err := s.local.Get(ctx, id); err == nil {
			return r, nil
		}
		data, err := s.client.Get(ctx, s.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load session %s: %w", types.ErrBackendUnavailable, id, err)
		}
		var snap retriever.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		r, err := s.restore(ctx, &snap)
		if err != nil {
			return nil, fmt.Errorf("restore session %s: %w", id, err)
		}
		s.logger.Info("session restored from snapshot", "session", id, "chunks", r.Len())
		_ = s.local.Put(ctx, id, r)
		_ = s.client.Expire(ctx, s.key(id), s.ttl).Err()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*retriever.Retriever), nil
}

// Drop removes id locally and in redis.
func (s *Redis) Drop(ctx context.Context, id string) error {
	_ = s.local.Drop(ctx, id)
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: drop session %s: %w", types.ErrBackendUnavailable, id, err)
	}
	return nil
}

// Close drops the local registry and closes the client.
func (s *Redis) Close() error {
	_ = s.local.Close()
	return s.client.Close()
}
