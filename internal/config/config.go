// Package config loads repoqa configuration from defaults, an optional
// YAML file and REPOQA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, with "." in keys
// replaced by "_" (REPOQA_EMBEDDING_DIM).
const EnvPrefix = "REPOQA"

// Config holds all application configuration.
type Config struct {
	Root         string `mapstructure:"root"`
	SessionID    string `mapstructure:"session_id"`
	Workspace    string `mapstructure:"workspace"`
	AutoDrive    bool   `mapstructure:"auto_drive"`
	BM25Fallback bool   `mapstructure:"bm25_fallback"`

	Ingest    IngestConfig    `mapstructure:"ingest"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Answer    AnswerConfig    `mapstructure:"answer"`
	Session   SessionConfig   `mapstructure:"session"`
	Docs      DocsConfig      `mapstructure:"docs"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type IngestConfig struct {
	Include      []string `mapstructure:"include"`
	Exclude      []string `mapstructure:"exclude"`
	MaxFileBytes int64    `mapstructure:"max_file_bytes"`
}

type ChunkingConfig struct {
	ChunkLOC   int `mapstructure:"chunk_loc"`
	OverlapLOC int `mapstructure:"overlap_loc"`
}

type PolicyConfig struct {
	ExpectedConcurrentSessions int  `mapstructure:"expected_concurrent_sessions"`
	ReuseAcrossSessions        bool `mapstructure:"reuse_across_sessions"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Project   string `mapstructure:"project"`
	Location  string `mapstructure:"location"`
	Dim       int    `mapstructure:"dim"`
	CacheSize int    `mapstructure:"cache_size"`
}

// VectorConfig selects the external vector backend used when policy
// chooses "external". Kind is qdrant or sqlite.
type VectorConfig struct {
	Kind         string        `mapstructure:"kind"`
	Project      string        `mapstructure:"project"`
	Index        string        `mapstructure:"index"`
	Endpoint     string        `mapstructure:"endpoint"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type RerankConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	TopK    int    `mapstructure:"top_k"`
	Model   string `mapstructure:"model"`
}

type AnswerConfig struct {
	Model string `mapstructure:"model"`
}

type SessionConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DocsConfig struct {
	Dir string   `mapstructure:"dir"`
	S3  S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Root:         ".",
		SessionID:    "default",
		Workspace:    ".repoqa",
		AutoDrive:    true,
		BM25Fallback: true,
		Ingest: IngestConfig{
			Include:      []string{"**"},
			MaxFileBytes: 1_500_000,
		},
		Chunking: ChunkingConfig{ChunkLOC: 300, OverlapLOC: 50},
		Policy:   PolicyConfig{ExpectedConcurrentSessions: 1},
		Embedding: EmbeddingConfig{
			Dim:       768,
			CacheSize: 10_000,
		},
		Vector:  VectorConfig{Kind: "sqlite", Index: "chunks", QueryTimeout: 30 * time.Second},
		Rerank:  RerankConfig{TopK: 20},
		Session: SessionConfig{Backend: "memory", Redis: RedisConfig{TTL: 24 * time.Hour}},
		Docs:    DocsConfig{Dir: "docs/generated"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{SampleRate: 1.0},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"root":                                d.Root,
		"session_id":                          d.SessionID,
		"workspace":                           d.Workspace,
		"auto_drive":                          d.AutoDrive,
		"bm25_fallback":                       d.BM25Fallback,
		"ingest.include":                      d.Ingest.Include,
		"ingest.exclude":                      d.Ingest.Exclude,
		"ingest.max_file_bytes":               d.Ingest.MaxFileBytes,
		"chunking.chunk_loc":                  d.Chunking.ChunkLOC,
		"chunking.overlap_loc":                d.Chunking.OverlapLOC,
		"policy.expected_concurrent_sessions": d.Policy.ExpectedConcurrentSessions,
		"policy.reuse_across_sessions":        d.Policy.ReuseAcrossSessions,
		"embedding.provider":                  d.Embedding.Provider,
		"embedding.model":                     d.Embedding.Model,
		"embedding.api_key":                   d.Embedding.APIKey,
		"embedding.base_url":                  d.Embedding.BaseURL,
		"embedding.project":                   d.Embedding.Project,
		"embedding.location":                  d.Embedding.Location,
		"embedding.dim":                       d.Embedding.Dim,
		"embedding.cache_size":                d.Embedding.CacheSize,
		"vector.kind":                         d.Vector.Kind,
		"vector.project":                      d.Vector.Project,
		"vector.index":                        d.Vector.Index,
		"vector.endpoint":                     d.Vector.Endpoint,
		"vector.query_timeout":                d.Vector.QueryTimeout,
		"rerank.enabled":                      d.Rerank.Enabled,
		"rerank.top_k":                        d.Rerank.TopK,
		"rerank.model":                        d.Rerank.Model,
		"answer.model":                        d.Answer.Model,
		"session.backend":                     d.Session.Backend,
		"session.redis.addr":                  d.Session.Redis.Addr,
		"session.redis.password":              d.Session.Redis.Password,
		"session.redis.db":                    d.Session.Redis.DB,
		"session.redis.ttl":                   d.Session.Redis.TTL,
		"docs.dir":                            d.Docs.Dir,
		"docs.s3.endpoint":                    d.Docs.S3.Endpoint,
		"docs.s3.region":                      d.Docs.S3.Region,
		"docs.s3.access_key":                  d.Docs.S3.AccessKey,
		"docs.s3.secret_key":                  d.Docs.S3.SecretKey,
		"docs.s3.bucket":                      d.Docs.S3.Bucket,
		"docs.s3.prefix":                      d.Docs.S3.Prefix,
		"docs.s3.use_ssl":                     d.Docs.S3.UseSSL,
		"log.level":                           d.Log.Level,
		"log.format":                          d.Log.Format,
		"metrics.addr":                        d.Metrics.Addr,
		"tracing.endpoint":                    d.Tracing.Endpoint,
		"tracing.sample_rate":                 d.Tracing.SampleRate,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate returns an error for values the pipeline cannot run with and
// warnings for settings that will degrade at runtime.
func (c *Config) Validate() ([]string, error) {
	var errs []error
	if c.Embedding.Dim < 1 || c.Embedding.Dim > 768 {
		errs = append(errs, fmt.Errorf("embedding.dim %d must be in 1..768", c.Embedding.Dim))
	}
	if c.Chunking.ChunkLOC <= 0 {
		errs = append(errs, fmt.Errorf("chunking.chunk_loc %d must be positive", c.Chunking.ChunkLOC))
	}
	if c.Chunking.OverlapLOC < 0 {
		errs = append(errs, fmt.Errorf("chunking.overlap_loc %d must not be negative", c.Chunking.OverlapLOC))
	}
	switch strings.ToLower(c.Vector.Kind) {
	case "qdrant", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("vector.kind %q must be qdrant or sqlite", c.Vector.Kind))
	}
	switch strings.ToLower(c.Session.Backend) {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("session.backend %q must be memory or redis", c.Session.Backend))
	}
	if c.Rerank.TopK < 0 {
		errs = append(errs, fmt.Errorf("rerank.top_k %d must not be negative", c.Rerank.TopK))
	}
	if c.Vector.QueryTimeout < 0 {
		errs = append(errs, fmt.Errorf("vector.query_timeout %s must not be negative", c.Vector.QueryTimeout))
	}

	var warnings []string
	if c.Chunking.ChunkLOC > 0 && c.Chunking.OverlapLOC >= c.Chunking.ChunkLOC {
		warnings = append(warnings, fmt.Sprintf("chunking.overlap_loc %d is not below chunk_loc %d; chunk estimates use a step of 1", c.Chunking.OverlapLOC, c.Chunking.ChunkLOC))
	}
	if c.Vector.Endpoint == "" {
		warnings = append(warnings, "vector.endpoint is empty; the external backend is unavailable if policy selects it")
	}
	if c.Session.Backend == "redis" && c.Session.Redis.Addr == "" {
		warnings = append(warnings, "session.backend is redis but session.redis.addr is empty")
	}
	if c.Rerank.Enabled && c.Rerank.Model == "" {
		warnings = append(warnings, "rerank.enabled is set but rerank.model is empty; rerank is skipped")
	}
	if c.Docs.S3.Bucket != "" && c.Docs.S3.Endpoint == "" {
		warnings = append(warnings, "docs.s3.bucket is set but docs.s3.endpoint is empty; uploads are skipped")
	}
	return warnings, errors.Join(errs...)
}
