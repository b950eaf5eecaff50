package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	genai "google.golang.org/genai"

	"github.com/dshills/repoqa/internal/llm"
	"github.com/dshills/repoqa/pkg/types"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultGeminiModel = "text-embedding-004"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	LocalModel         = "local-hash"
)

// GeminiProvider embeds through genai Models.EmbedContent, on either the
// Gemini API or Vertex AI.
type GeminiProvider struct {
	cli   *genai.Client
	model string
}

// NewGeminiProvider builds a provider. Missing credentials fail with
// types.ErrNotConfigured.
func NewGeminiProvider(ctx context.Context, cfg llm.Config) (*GeminiProvider, error) {
	cli, err := llm.NewGenAIClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{cli: cli, model: model}, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	d := int32(dim)
	resp, err := g.cli.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &d,
	})
	if err != nil {
		if code, msg, ok := llm.APIStatus(err); ok {
			return nil, &StatusError{Code: code, Message: msg}
		}
		return nil, err
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini: nil embedding in response")
		}
		out = append(out, e.Values)
	}
	return out, nil
}

func (g *GeminiProvider) Name() string  { return ProviderGemini }
func (g *GeminiProvider) Model() string { return g.model }
func (g *GeminiProvider) Close() error  { return nil }

// HTTPProvider speaks the OpenAI-compatible /embeddings protocol.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPProvider builds an OpenAI-compatible provider. The hosted
// default endpoint requires an API key; a custom baseURL may run without.
func NewHTTPProvider(baseURL, apiKey, model string) (*HTTPProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if apiKey == "" && baseURL == DefaultOpenAIURL {
		return nil, fmt.Errorf("%w: openai provider requires an API key", types.ErrNotConfigured)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (h *HTTPProvider) Embed(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"input":      texts,
		"model":      h.model,
		"dimensions": dim,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	out := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (h *HTTPProvider) Name() string  { return ProviderOpenAI }
func (h *HTTPProvider) Model() string { return h.model }

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider is an offline feature-hashing embedder: each identifier
// token is hashed into a signed bucket and the vector is L2-normalized,
// so texts sharing vocabulary have positive cosine similarity.
type LocalProvider struct{}

// NewLocalProvider returns the offline provider.
func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (l *LocalProvider) Embed(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = HashEmbed(t, dim)
	}
	return out, nil
}

func (l *LocalProvider) Name() string  { return ProviderLocal }
func (l *LocalProvider) Model() string { return LocalModel }
func (l *LocalProvider) Close() error  { return nil }

// HashEmbed maps text to a deterministic unit vector of length dim.
func HashEmbed(text string, dim int) []float32 {
	v := make([]float32, dim)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(dim))
		if sum&(1<<31) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	return Normalize(v)
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
