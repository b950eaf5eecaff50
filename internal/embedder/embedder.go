package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/repoqa/internal/metrics"
	"github.com/dshills/repoqa/pkg/types"
)

// Limits of the embedding contract.
const (
	DefaultDim   = 768
	MaxDim       = 768
	MaxTextChars = 8000

	MinBatchSize = 4
	MaxBatchSize = 8

	DefaultCacheSize = 10000
)

// Provider performs one embedding round trip for a batch of texts.
// Implementations return vectors in input order and report HTTP-like
// failures as *StatusError so the client can decide whether to retry.
type Provider interface {
	Embed(ctx context.Context, texts []string, dim int) ([][]float32, error)
	Name() string
	Model() string
	Close() error
}

// StatusError is a provider failure carrying an HTTP-like status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "status " + strconv.Itoa(e.Code)
	}
	return "status " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Retryable reports whether the status is 429 or 5xx.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// Client batches, truncates, caches and retries embedding calls over a
// Provider.
type Client struct {
	provider Provider
	cache    *Cache
	retry    RetryConfig
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the embedding cache. A nil cache disables caching.
func WithCache(c *Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient wraps p.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider: p,
		retry:    DefaultRetryConfig(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider.Name() }

// Model returns the provider model name.
func (c *Client) Model() string { return c.provider.Model() }

// Close releases provider resources.
func (c *Client) Close() error { return c.provider.Close() }

// EmbedTexts returns one vector per text, in input order. Texts must be
// non-blank; each is truncated to MaxTextChars at a whitespace boundary
// before being sent.
func (c *Client) EmbedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	if err := ValidateDim(dim); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		if types.IsBlank(t) {
			return nil, fmt.Errorf("%w: text at index %d", types.ErrEmptyText, i)
		}
		prepared[i] = Truncate(t, MaxTextChars)
	}

	var missing []int
	for i, t := range prepared {
		if v, ok := c.cache.Get(c.cacheKey(t, dim)); ok {
			out[i] = v
			metrics.EmbeddingCacheHits.Inc()
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = prepared[i]
	}
	size := BatchSize(pending)

	for start := 0; start < len(missing); start += size {
		end := min(start+size, len(missing))
		batch := pending[start:end]

		vecs, err := c.embedBatch(ctx, batch, dim)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
				types.ErrEmbeddingFatal, c.provider.Name(), len(vecs), len(batch))
		}
		for j, i := range missing[start:end] {
			out[i] = vecs[j]
			c.cache.Set(c.cacheKey(batch[j], dim), vecs[j])
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string, dim int) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text}, dim)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, dim int) ([][]float32, error) {
	name := c.provider.Name()
	onRetry := func(attempt int, err error) {
		metrics.EmbeddingRetries.WithLabelValues(name).Inc()
		c.logger.Warn("embedding batch retry", "provider", name, "attempt", attempt, "batch", len(batch), "error", err)
	}

	vecs, err := retryWithBackoff(ctx, c.retry, onRetry, func() ([][]float32, error) {
		return c.provider.Embed(ctx, batch, dim)
	})
	if err == nil {
		metrics.EmbeddingCalls.WithLabelValues(name, "ok").Inc()
		return vecs, nil
	}

	metrics.EmbeddingCalls.WithLabelValues(name, "error").Inc()
	switch {
	case errors.Is(err, types.ErrNotConfigured),
		errors.Is(err, types.ErrEmbeddingTransient),
		errors.Is(err, types.ErrEmbeddingFatal):
		return nil, err
	case IsRetryable(err) || ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %s: %w", types.ErrEmbeddingTransient, name, err)
	default:
		return nil, fmt.Errorf("%w: %s: %w", types.ErrEmbeddingFatal, name, err)
	}
}

func (c *Client) cacheKey(text string, dim int) string {
	return c.provider.Model() + "|" + strconv.Itoa(dim) + "|" + ComputeHash(text)
}

// ValidateDim checks 1 <= dim <= MaxDim.
func ValidateDim(dim int) error {
	if dim < 1 || dim > MaxDim {
		return fmt.Errorf("%w: %d not in 1..%d", types.ErrInvalidDimension, dim, MaxDim)
	}
	return nil
}

// BatchSize picks a batch size between MinBatchSize and MaxBatchSize from
// the average text length: long texts go out in smaller batches.
func BatchSize(texts []string) int {
	if len(texts) == 0 {
		return MaxBatchSize
	}
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	avg := total / len(texts)
	switch {
	case avg > 4000:
		return MinBatchSize
	case avg > 1500:
		return 6
	default:
		return MaxBatchSize
	}
}

// Truncate cuts text to at most limit bytes, preferring the last
// whitespace boundary inside the limit. The result never ends inside a
// multi-byte rune.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !runeStart(text[cut]) {
		cut--
	}
	head := text[:cut]
	if i := strings.LastIndexFunc(head, unicode.IsSpace); i > 0 {
		head = head[:i]
	}
	return strings.TrimRightFunc(head, unicode.IsSpace)
}

func runeStart(b byte) bool { return b&0xC0 != 0x80 }

// Cache is an LRU of embedding vectors keyed by model, dimension and
// content hash. A nil *Cache is a valid no-op cache.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a cache holding up to maxLen vectors.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector.
func (c *Cache) Get(key string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of v.
func (c *Cache) Set(key string, v []float32) {
	if c == nil {
		return
	}
	stored := make([]float32, len(v))
	copy(stored, v)
	c.cache.Add(key, stored)
}

// Size returns the number of cached vectors.
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	if c != nil {
		c.cache.Purge()
	}
}

// ComputeHash returns the hex SHA-256 of text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
