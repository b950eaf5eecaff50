package evidence

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/repoqa/pkg/types"
)

// Scores given to structural probe hits. Code search hits are normalized
// to (0, 1] within their probe so probes of different kinds compare.
const (
	SymbolHitScore = 0.8
	FileHitScore   = 0.5
)

// Index is the retrieval surface probes run against.
type Index interface {
	// CollectEvidence returns a ranked doc-pack for query.
	CollectEvidence(ctx context.Context, query string, k int) ([]types.DocItem, error)
	// FileExcerpt returns the leading excerpt of a file.
	FileExcerpt(path string) (types.DocItem, bool)
}

// ProbeResult is the doc-pack one probe produced.
type ProbeResult struct {
	Probe Probe           `json:"probe"`
	Items []types.DocItem `json:"doc_pack"`
	Error string          `json:"error,omitempty"`
}

// Runner executes probes against an Index and a CodeMap.
type Runner struct {
	index   Index
	codeMap *types.CodeMap
}

// NewRunner creates a Runner. cm may be nil, in which case symbol and
// file probes fall back to code search.
func NewRunner(index Index, cm *types.CodeMap) *Runner {
	return &Runner{index: index, codeMap: cm}
}

// Run executes every probe in order. A failing probe is recorded in its
// result and does not stop the others.
func (r *Runner) Run(ctx context.Context, probes []Probe) []ProbeResult {
	out := make([]ProbeResult, 0, len(probes))
	for _, p := range probes {
		items, err := r.runOne(ctx, p)
		res := ProbeResult{Probe: p, Items: items}
		if err != nil {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, p Probe) ([]types.DocItem, error) {
	limit := max(p.ExpectedFiles, 1)
	var paths []string
	var score float64
	switch p.Type {
	case ProbeSymbolLookup:
		paths, score = r.symbolPaths(p.Query), SymbolHitScore
	case ProbeFileList:
		paths, score = r.matchFiles(p.Query), FileHitScore
	case ProbeCodeSearch:
	default:
		return nil, fmt.Errorf("unknown probe type %q", p.Type)
	}

	if len(paths) > 0 {
		var items []types.DocItem
		for _, fp := range paths {
			if len(items) >= limit {
				break
			}
			if item, ok := r.index.FileExcerpt(fp); ok {
				item.Score = score
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	items, err := r.index.CollectEvidence(ctx, p.Query, limit)
	if err != nil {
		return nil, err
	}
	return normalize(items), nil
}

// symbolPaths returns files defining a symbol that equals, or starts
// with, any query term (case-insensitive).
func (r *Runner) symbolPaths(query string) []string {
	if r.codeMap == nil {
		return nil
	}
	terms := strings.Fields(strings.ToLower(query))
	var cands []string
	for sym, files := range r.codeMap.SymbolIndex {
		ls := strings.ToLower(sym)
		for _, t := range terms {
			if ls == t || strings.HasPrefix(ls, t) {
				cands = append(cands, files...)
				break
			}
		}
	}
	return ResolvePaths(sortedUnique(cands), r.codeMap.Files)
}

// matchFiles returns repository files matching any whitespace-separated
// glob in query. Patterns without a slash match base names.
func (r *Runner) matchFiles(query string) []string {
	if r.codeMap == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, pat := range strings.Fields(query) {
		for _, f := range r.codeMap.Files {
			if seen[f] {
				continue
			}
			target := f
			if !strings.Contains(pat, "/") {
				target = path.Base(f)
			}
			if ok, _ := doublestar.Match(pat, target); ok {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func normalize(items []types.DocItem) []types.DocItem {
	top := 0.0
	for _, it := range items {
		top = max(top, it.Score)
	}
	if top <= 0 {
		return items
	}
	out := make([]types.DocItem, len(items))
	for i, it := range items {
		it.Score /= top
		out[i] = it
	}
	return out
}
