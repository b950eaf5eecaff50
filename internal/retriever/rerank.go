package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/repoqa/internal/llm"
)

// Rerank limits.
const (
	DefaultRerankTopK   = 20
	MaxRerankPassages   = 20
	MaxRerankSnippetLen = 1200
)

// Passage is what a reranker sees of a result.
type Passage struct {
	Path    string
	Snippet string
}

// Reranker scores passages for relevance to query, one score per
// passage in [0, 1].
type Reranker interface {
	Score(ctx context.Context, query string, passages []Passage) ([]float64, error)
}

// LLMReranker asks a text model for a JSON array of relevance scores.
type LLMReranker struct {
	gen llm.Generator
}

// NewLLMReranker wraps gen.
func NewLLMReranker(gen llm.Generator) *LLMReranker {
	return &LLMReranker{gen: gen}
}

const rerankPrompt = `You are a code search relevance scorer. Given a query and code passages, score each passage's relevance from 0.0 to 1.0.

Query: %s

Passages:
%s

Return ONLY a JSON array of scores in order, one per passage. Example: [0.9, 0.3, 0.7, ...]
Scores should reflect:
- 0.9-1.0: Highly relevant, directly answers the query
- 0.6-0.8: Relevant, contains useful related information
- 0.3-0.5: Somewhat relevant, tangentially related
- 0.0-0.2: Not relevant

JSON scores:`

// Score implements Reranker. A short score list is padded with 0.5 and a
// long one truncated.
func (r *LLMReranker) Score(ctx context.Context, query string, passages []Passage) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	n := min(len(passages), MaxRerankPassages)

	blocks := make([]string, n)
	for i, p := range passages[:n] {
		snip := p.Snippet
		if len(snip) > MaxRerankSnippetLen {
			snip = snip[:MaxRerankSnippetLen]
		}
		path := p.Path
		if path == "" {
			path = "unknown"
		}
		blocks[i] = fmt.Sprintf("[%d] %s\n%s", i, path, snip)
	}

	raw, err := r.gen.Generate(ctx, fmt.Sprintf(rerankPrompt, query, strings.Join(blocks, "\n")))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	scores, err := ParseScores(raw)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	out := make([]float64, len(passages))
	for i := range out {
		out[i] = 0.5
		if i < len(scores) {
			out[i] = min(max(scores[i], 0), 1)
		}
	}
	return out, nil
}

// ParseScores decodes a JSON array of numbers, tolerating a surrounding
// markdown code fence.
func ParseScores(raw string) ([]float64, error) {
	text := strings.TrimSpace(raw)
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		if len(parts) >= 2 {
			text = strings.TrimPrefix(strings.TrimSpace(parts[1]), "json")
		}
	}
	var scores []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &scores); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}
	return scores, nil
}
