// Package llm wraps the genai client used for text generation (rerank and
// answer composition) and for the gemini embedding provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/dshills/repoqa/pkg/types"
)

// DefaultLocation is the Vertex AI region used when a project is set
// without a location.
const DefaultLocation = "us-central1"

// Config selects a genai backend. A Project selects Vertex AI; otherwise
// APIKey selects the Gemini API.
type Config struct {
	APIKey   string
	Project  string
	Location string
	Model    string
}

// Configured reports whether cfg names a backend.
func (c Config) Configured() bool {
	return c.Project != "" || c.APIKey != ""
}

// NewGenAIClient builds a genai client. Missing credentials fail with
// types.ErrNotConfigured before any network access.
func NewGenAIClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: genai requires a project or an API key", types.ErrNotConfigured)
	}

	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		loc := cfg.Location
		if loc == "" {
			loc = DefaultLocation
		}
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: cfg.Project, Location: loc}
	}

	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: genai client: %w", types.ErrNotConfigured, err)
	}
	return cli, nil
}

// APIStatus extracts the HTTP status code from a genai API error.
func APIStatus(err error) (code int, msg string, ok bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Message, true
	}
	return 0, "", false
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// GenAI is a Generator over genai Models.GenerateContent.
type GenAI struct {
	cli   *genai.Client
	model string
	json  bool
}

// New builds a text Generator for cfg.Model.
func New(ctx context.Context, cfg Config) (*GenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no model name", types.ErrNotConfigured)
	}
	cli, err := NewGenAIClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GenAI{cli: cli, model: cfg.Model}, nil
}

// JSON returns a copy of g that asks for application/json output.
func (g *GenAI) JSON() *GenAI {
	cp := *g
	cp.json = true
	return &cp
}

// Model returns the model name.
func (g *GenAI) Model() string { return g.model }

// Generate sends prompt as a single user turn and returns the first
// candidate's text.
func (g *GenAI) Generate(ctx context.Context, prompt string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if g.json {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", g.model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate %s: empty response", g.model)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("generate %s: empty response", g.model)
	}
	return b.String(), nil
}
