package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/repoqa/internal/llm"
	"github.com/dshills/repoqa/pkg/types"
)

// Config holds embedding client configuration.
type Config struct {
	Provider  string // gemini, openai, local; empty auto-detects
	Model     string
	APIKey    string
	BaseURL   string
	Project   string
	Location  string
	CacheSize int
	Logger    *slog.Logger
	Retry     *RetryConfig
}

// DetectProvider returns the provider New would build for cfg, or "" when
// nothing is configured. The local provider is never auto-selected.
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	switch {
	case cfg.Project != "":
		return ProviderGemini
	case cfg.BaseURL != "":
		return ProviderOpenAI
	case cfg.APIKey != "":
		return ProviderGemini
	default:
		return ""
	}
}

// New builds a Client for cfg. Missing configuration fails with
// types.ErrNotConfigured.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var (
		p   Provider
		err error
	)
	switch name := DetectProvider(cfg); name {
	case ProviderGemini:
		p, err = NewGeminiProvider(ctx, llm.Config{
			APIKey:   cfg.APIKey,
			Project:  cfg.Project,
			Location: cfg.Location,
			Model:    cfg.Model,
		})
	case ProviderOpenAI:
		p, err = NewHTTPProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderLocal:
		p = NewLocalProvider()
	case "":
		return nil, fmt.Errorf("%w: no embedding provider configured", types.ErrNotConfigured)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrNotConfigured, name)
	}
	if err != nil {
		return nil, err
	}

	opts := []Option{WithCache(NewCache(cfg.CacheSize)), WithLogger(cfg.Logger)}
	if cfg.Retry != nil {
		opts = append(opts, WithRetry(*cfg.Retry))
	}
	return NewClient(p, opts...), nil
}
