package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/repoqa/internal/evidence"
	"github.com/dshills/repoqa/internal/metrics"
	"github.com/dshills/repoqa/internal/retriever"
	"github.com/dshills/repoqa/pkg/types"
)

// Query defaults.
const (
	DefaultK          = 50
	MaxAnswerPassages = 8
	ModelExtractive   = "extractive"
	ModelNone         = "none"

	noResultsAnswer = "No relevant information found."
)

// synopsisProbes seed RepoSynopsis.
var synopsisProbes = []string{
	"project overview purpose readme",
	"main entry point application startup",
	"routes endpoints api handlers",
	"dependencies requirements package configuration",
}

// sessionRetriever returns the session's retriever. A fresh orchestrator adopts
// a retriever already registered under its session id; otherwise missing
// pipeline stages are driven when auto-drive is on.
func (o *Orchestrator) sessionRetriever(ctx context.Context, rec *types.Record) (*retriever.Retriever, error) {
	if st := o.State(); st == StateIndexed || st == StateEmpty {
		r, err := o.sessions.Get(ctx, o.sessionID)
		switch {
		case err == nil:
			if st == StateEmpty {
				o.adopt(r)
				rec.Logf("using existing index for session %s", o.sessionID)
			}
			return r, nil
		case !errors.Is(err, types.ErrSessionNotFound):
			return nil, err
		}
	}
	if !o.cfg.AutoDrive {
		return nil, fmt.Errorf("%w: pipeline is %s, indexed required", types.ErrInvalidState, o.State())
	}

	rec.Logf("no index found; indexing now...")
	err := o.pipeline(func() error {
		o.mu.Lock()
		if o.state == StateIndexed {
			o.state = StateSized
		}
		o.mu.Unlock()
		return o.driveTo(ctx, StateIndexed, rec)
	})
	if err != nil {
		return nil, err
	}
	return o.sessions.Get(ctx, o.sessionID)
}

func (o *Orchestrator) adopt(r *retriever.Retriever) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateEmpty {
		return
	}
	o.codeMap = r.CodeMap()
	o.chunks = r.Chunks()
	o.state = StateIndexed
}

func (o *Orchestrator) search(ctx context.Context, r *retriever.Retriever, query string, k int, rec *types.Record) (*retriever.SearchResponse, error) {
	if k <= 0 {
		k = DefaultK
	}
	resp, err := r.Search(ctx, retriever.SearchRequest{Query: query, Limit: k, UseCache: true})
	if err != nil {
		return nil, err
	}
	for _, n := range resp.Notes {
		rec.Logf("%s", n)
	}
	return resp, nil
}

// AskResult is returned by Ask.
type AskResult struct {
	types.Record
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	TokenCount int      `json:"token_count"`
	ModelUsed  string   `json:"model_used"`
	DocsPath   string   `json:"docs_path,omitempty"`
}

// Ask answers query from the top k passages. It auto-drives the pipeline
// on first use. Failures are reported in the answer text and Error.
func (o *Orchestrator) Ask(ctx context.Context, query string, k int, writeDocs bool) *AskResult {
	res := &AskResult{ModelUsed: ModelNone}
	o.run(ctx, "ask", &res.Record, func(ctx context.Context) error {
		res.Logf("answering: %s", query)
		r, err := o.sessionRetriever(ctx, &res.Record)
		if err != nil {
			return err
		}
		resp, err := o.search(ctx, r, query, k, &res.Record)
		if err != nil {
			return err
		}

		if len(resp.Results) == 0 {
			res.Answer = noResultsAnswer
			res.Sources = []string{}
		} else {
			res.Sources = sources(resp.Results)
			res.Answer, res.ModelUsed = o.compose(ctx, query, resp.Results, &res.Record)
			res.TokenCount = len(res.Answer) / 4
		}

		if writeDocs {
			out, err := o.docs.WriteAnswer(ctx, query, res.Answer, res.Sources)
			if err != nil {
				res.Logf("writing docs failed: %v", err)
			} else {
				res.DocsPath = out.Path
				res.Logf("docs written to %s", out.Path)
				for _, m := range out.Mirrors {
					res.Logf("docs uploaded to %s", m)
				}
				for _, w := range out.Warnings {
					res.Logf("%s", w)
				}
			}
		}
		res.Logf("answer ready")
		return nil
	})
	if res.Failed() {
		res.Answer = fmt.Sprintf("Sorry, I couldn't complete that request: %s", res.Error)
	}
	return res
}

// sources lists result paths in rank order without duplicates.
func sources(results []types.RetrievalResult) []string {
	seen := make(map[string]bool, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.Path] {
			seen[r.Path] = true
			out = append(out, r.Path)
		}
	}
	return out
}

// compose builds the answer with the answer model when one is
// configured, falling back to an extractive answer.
func (o *Orchestrator) compose(ctx context.Context, query string, results []types.RetrievalResult, rec *types.Record) (string, string) {
	top := results[:min(len(results), MaxAnswerPassages)]
	if o.answerer != nil {
		answer, err := o.answerer.Generate(ctx, answerPrompt(query, top))
		if err == nil && strings.TrimSpace(answer) != "" {
			return strings.TrimSpace(answer), o.answerer.Model()
		}
		if err == nil {
			err = errors.New("empty answer")
		}
		metrics.Degrade(metrics.ReasonAnswerModel)
		o.logger.Warn("answer model failed", "model", o.answerer.Model(), "error", err)
		rec.Logf("answer model failed (%s); using extractive answer", types.Kind(err))
	}
	return extractive(top), ModelExtractive
}

func extractive(top []types.RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant code sections. Top match: %s\n", len(top), top[0].Path)
	for _, r := range top {
		fmt.Fprintf(&b, "\n- `%s:%d-%d`: %s", r.Path, r.StartLine, r.EndLine, oneLine(r.Snippet))
	}
	return b.String()
}

func answerPrompt(query string, top []types.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Answer the question about this code repository using only the passages below. ")
	b.WriteString("Cite passages as path:start-end.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, r := range top {
		fmt.Fprintf(&b, "[%d] %s:%d-%d\n%s\n\n", i+1, r.Path, r.StartLine, r.EndLine, r.Snippet)
	}
	b.WriteString("Answer:")
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// EvidenceResult is returned by CollectEvidence and RepoSynopsis.
type EvidenceResult struct {
	types.Record
	Query   string          `json:"query,omitempty"`
	DocPack []types.DocItem `json:"doc_pack"`
}

// CollectEvidence returns a ranked doc-pack for query with at most
// evidence.MaxTotalLines non-blank excerpt lines.
func (o *Orchestrator) CollectEvidence(ctx context.Context, query string, k int) *EvidenceResult {
	res := &EvidenceResult{Query: query, DocPack: []types.DocItem{}}
	o.run(ctx, "collect_evidence", &res.Record, func(ctx context.Context) error {
		r, err := o.sessionRetriever(ctx, &res.Record)
		if err != nil {
			return err
		}
		items, err := o.collect(ctx, r, query, k, &res.Record)
		if err != nil {
			return err
		}
		res.DocPack = evidence.CompressDocPack(items, evidence.MaxTotalLines)
		res.Logf("collected %d evidence items", len(res.DocPack))
		return nil
	})
	return res
}

func (o *Orchestrator) collect(ctx context.Context, r *retriever.Retriever, query string, k int, rec *types.Record) ([]types.DocItem, error) {
	resp, err := o.search(ctx, r, query, k, rec)
	if err != nil {
		return nil, err
	}
	items := make([]types.DocItem, 0, len(resp.Results))
	for _, res := range resp.Results {
		c, ok := r.Chunk(res.ChunkID)
		if !ok {
			continue
		}
		items = append(items, types.DocItem{
			Path:      c.Path,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Score:     res.Score,
			Excerpt:   c.Text,
		})
	}
	return items, nil
}

// RepoSynopsis runs the overview, entry point, routing and dependency
// probes and merges their doc-packs.
func (o *Orchestrator) RepoSynopsis(ctx context.Context) *EvidenceResult {
	res := &EvidenceResult{DocPack: []types.DocItem{}}
	var sub types.Record
	o.run(ctx, "repo_synopsis", &res.Record, func(ctx context.Context) error {
		r, err := o.sessionRetriever(ctx, &sub)
		if err != nil {
			return err
		}
		type key struct {
			path  string
			start int
		}
		best := make(map[key]types.DocItem)
		for _, q := range synopsisProbes {
			items, err := o.collect(ctx, r, q, 10, &sub)
			if err != nil {
				return err
			}
			for _, it := range items {
				k := key{it.Path, it.StartLine}
				if prev, ok := best[k]; !ok || it.Score > prev.Score {
					best[k] = it
				}
			}
		}
		merged := make([]types.DocItem, 0, len(best))
		for _, it := range best {
			merged = append(merged, it)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if merged[i].Score != merged[j].Score {
				return merged[i].Score > merged[j].Score
			}
			if merged[i].Path != merged[j].Path {
				return merged[i].Path < merged[j].Path
			}
			return merged[i].StartLine < merged[j].StartLine
		})
		res.DocPack = evidence.CompressDocPack(merged, evidence.MaxTotalLines)
		return nil
	})
	status := []string{fmt.Sprintf("repo_synopsis collected %d items from %d probes", len(res.DocPack), len(synopsisProbes))}
	res.Status = append(append(status, sub.Status...), res.Status...)
	return res
}

// AssembleResult is returned by AssembleEvidence.
type AssembleResult struct {
	types.Record
	Answer  string           `json:"answer"`
	DocPack []types.DocItem  `json:"doc_pack"`
	Probes  []evidence.Probe `json:"probes"`
	Report  *evidence.Report `json:"report,omitempty"`
}

// AssembleEvidence plans probes for query, runs them and synthesizes a
// bounded Markdown evidence report.
func (o *Orchestrator) AssembleEvidence(ctx context.Context, query string, k int) *AssembleResult {
	res := &AssembleResult{DocPack: []types.DocItem{}}
	o.run(ctx, "assemble_evidence", &res.Record, func(ctx context.Context) error {
		r, err := o.sessionRetriever(ctx, &res.Record)
		if err != nil {
			return err
		}
		cm := r.CodeMap()
		if cm == nil {
			cm = o.CodeMap()
		}
		facts := evidence.BuildFacts(cm)
		res.Probes = evidence.Plan(query, &facts)
		res.Logf("planned %d probes", len(res.Probes))

		results := evidence.NewRunner(&evidenceIndex{o: o, r: r, k: k}, cm).Run(ctx, res.Probes)
		for _, pr := range results {
			if pr.Error != "" {
				res.Logf("probe %s %q failed: %s", pr.Probe.Type, pr.Probe.Query, pr.Error)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res.Report = evidence.Synthesize(query, results)
		res.Answer = res.Report.Markdown
		res.DocPack = res.Report.DocPack()
		res.Logf("synthesized %d files from %d probes", res.Report.UniqueFiles, res.Report.ProbeCount)
		return nil
	})
	if res.Failed() && res.Answer == "" {
		res.Answer = fmt.Sprintf("Sorry, I couldn't assemble evidence: %s", res.Error)
	}
	return res
}

// evidenceIndex adapts a retriever to evidence.Index.
type evidenceIndex struct {
	o *Orchestrator
	r *retriever.Retriever
	k int
}

func (e *evidenceIndex) CollectEvidence(ctx context.Context, query string, k int) ([]types.DocItem, error) {
	if e.k > 0 {
		k = max(k, e.k)
	}
	var discard types.Record
	return e.o.collect(ctx, e.r, query, k, &discard)
}

func (e *evidenceIndex) FileExcerpt(path string) (types.DocItem, bool) {
	chunks := e.r.ChunksForPath(path)
	if len(chunks) == 0 {
		return types.DocItem{}, false
	}
	c := chunks[0]
	return types.DocItem{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine, Excerpt: c.Text}, true
}
