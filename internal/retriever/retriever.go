package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/repoqa/internal/metrics"
	"github.com/dshills/repoqa/internal/vectorstore"
	"github.com/dshills/repoqa/pkg/types"
)

// Mode selects how a search is performed.
type Mode string

const (
	ModeHybrid Mode = "hybrid" // BM25 + vector fused with RRF
	ModeVector Mode = "vector" // vector similarity only
	ModeBM25   Mode = "bm25"   // lexical only
)

// ParseMode maps a mode name to a Mode; empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeVector, ModeBM25:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unsupported search mode %q", s)
	}
}

// Search defaults.
const (
	DefaultLimit        = 10
	MaxLimit            = 200
	MinVectorScore      = 0.1
	DefaultQueryTimeout = 30 * time.Second
	DefaultCacheTTL     = time.Hour
	defaultCacheSize    = 256
)

// QueryEmbedder encodes a query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string, dim int) ([]float32, error)
}

// Options configures a Retriever. Vector search is available only when
// Embedder and Store are both set and vectors were indexed.
type Options struct {
	Embedder     QueryEmbedder
	Dim          int
	Store        vectorstore.Store
	Backend      types.Backend
	Namespace    string
	CodeMap      *types.CodeMap
	Reranker     Reranker
	RerankTopK   int
	QueryTimeout time.Duration
	CacheSize    int
	Logger       *slog.Logger
}

// SearchRequest contains the parameters of one search.
type SearchRequest struct {
	Query         string
	Limit         int
	Mode          Mode
	SkipNeighbors bool
	UseCache      bool
	CacheTTL      time.Duration
	// Filter keeps only chunks whose metadata (path, start, end, lang)
	// matches every entry. Vector stores apply it server side.
	Filter vectorstore.Filter
}

// SearchResponse contains results and how they were produced.
type SearchResponse struct {
	Results       []types.RetrievalResult
	Mode          Mode // mode actually used after any fallback
	Notes         []string
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Retriever is a hybrid BM25 + dense index over one session's chunks.
type Retriever struct {
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	chunks    []types.Chunk
	byID      map[string]int
	byPath    map[string][]int
	hasVector bool
	bm25      *bm25Index
	graph     *types.ImportGraph

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.Mutex
}

// New creates an empty Retriever.
func New(opts Options) *Retriever {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = DefaultRerankTopK
	}
	if opts.Backend == "" {
		opts.Backend = types.BackendInMemory
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		cache, _ = lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	}
	return &Retriever{
		opts:   opts,
		logger: logger,
		byID:   map[string]int{},
		byPath: map[string][]int{},
		bm25:   newBM25(nil),
		graph:  opts.CodeMap.Graph(),
		cache:  cache,
	}
}

// IndexChunks replaces the index contents. When vectors has one entry per
// chunk and a store is configured, the vectors are upserted under the
// namespace and vector search is enabled; otherwise vector search is off.
func (r *Retriever) IndexChunks(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	docs := make([][]string, len(chunks))
	byID := make(map[string]int, len(chunks))
	byPath := make(map[string][]int)
	for i, c := range chunks {
		docs[i] = Tokenize(DocumentText(c))
		byID[c.ID] = i
		byPath[c.Path] = append(byPath[c.Path], i)
	}

	useVectors := len(vectors) > 0 && len(vectors) == len(chunks) && r.opts.Store != nil
	if len(vectors) > 0 && len(vectors) != len(chunks) {
		r.logger.Warn("vector count mismatch, vector search disabled", "chunks", len(chunks), "vectors", len(vectors))
	}
	if useVectors {
		items := make([]vectorstore.Item, len(chunks))
		for i, c := range chunks {
			items[i] = vectorstore.Item{
				ID:       c.ID,
				Vector:   vectors[i],
				Metadata: vectorstore.ChunkMetadata(c.Path, c.StartLine, c.EndLine, c.Lang),
			}
		}
		if err := r.opts.Store.Upsert(ctx, r.opts.Namespace, items); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
	}

	r.mu.Lock()
	r.chunks = chunks
	r.byID = byID
	r.byPath = byPath
	r.bm25 = newBM25(docs)
	r.hasVector = useVectors
	r.mu.Unlock()

	r.InvalidateCache()
	return nil
}

// attachVectors marks vectors already present in an external store.
func (r *Retriever) attachVectors() {
	r.mu.Lock()
	r.hasVector = r.opts.Store != nil && r.opts.Embedder != nil
	r.mu.Unlock()
}

// Search runs a query. Vector failures degrade to BM25 with a note; the
// returned error is reserved for invalid requests and cancellation.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := r.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(started)
			return cached, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := &SearchResponse{Mode: req.Mode}
	query := Tokenize(req.Query)
	wide := 2 * req.Limit

	var textIDs, vecIDs []string
	var textScores, vecScores map[string]float64

	// Hybrid search over a BM25-only index is the normal path, not a
	// degradation.
	wantVector := req.Mode == ModeVector || req.Mode == ModeHybrid && r.hasVector
	if wantVector {
		matches, note := r.vectorSearch(ctx, req.Query, wide, req.Filter)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if note != "" {
			resp.Notes = append(resp.Notes, note)
			if req.Mode == ModeVector {
				resp.Mode = ModeBM25
			}
		}
		vecScores = make(map[string]float64, len(matches))
		for _, m := range matches {
			vecIDs = append(vecIDs, m.ID)
			vecScores[m.ID] = m.Score
		}
		resp.VectorResults = len(vecIDs)
	}

	if resp.Mode != ModeVector {
		n := wide
		if len(req.Filter) > 0 {
			n = 0
		}
		hits := r.bm25.top(query, n)
		textScores = make(map[string]float64, len(hits))
		for _, h := range hits {
			if len(textIDs) == wide {
				break
			}
			if !r.allowed(h.idx, req.Filter) {
				continue
			}
			id := r.chunks[h.idx].ID
			textIDs = append(textIDs, id)
			textScores[id] = h.score
		}
		resp.TextResults = len(textIDs)
	}

	var ranked []Ranked
	switch resp.Mode {
	case ModeBM25:
		ranked = toRanked(textIDs, textScores)
	case ModeVector:
		ranked = toRanked(vecIDs, vecScores)
	default:
		ranked = FuseRRF(vecIDs, textIDs)
		for i := range ranked {
			if c, ok := r.chunk(ranked[i].ID); ok {
				ranked[i].Score += NameBonus(c.Path)
			}
		}
		sortRanked(ranked)
	}

	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}
	ranked, note := r.rerank(ctx, req.Query, ranked, query)
	if note != "" {
		resp.Notes = append(resp.Notes, note)
	}
	if !req.SkipNeighbors {
		ranked = r.expandNeighbors(ranked, req.Limit, req.Filter)
	}

	resp.Results = make([]types.RetrievalResult, 0, len(ranked))
	for _, rk := range ranked {
		c, ok := r.chunk(rk.ID)
		if !ok {
			continue
		}
		resp.Results = append(resp.Results, types.RetrievalResult{
			ChunkID:   c.ID,
			Path:      c.Path,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Score:     rk.Score,
			Neighbors: c.Neighbors,
			Snippet:   Snippet(c.Text, query),
		})
	}

	resp.Duration = time.Since(started)
	metrics.ObserveSearch(string(resp.Mode), started)

	if req.UseCache && len(resp.Results) > 0 {
		r.storeInCache(req, resp)
	}
	return resp, nil
}

// vectorSearch returns matches with score >= MinVectorScore, or a note
// explaining why vector search was skipped.
func (r *Retriever) vectorSearch(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]vectorstore.Match, string) {
	if !r.hasVector {
		return nil, "vector search unavailable: no embeddings indexed; using BM25"
	}
	vec, err := r.opts.Embedder.EmbedQuery(ctx, query, r.opts.Dim)
	if err != nil {
		metrics.Degrade(metrics.ReasonQueryEmbedding)
		r.logger.Warn("query embedding failed", "error", err)
		return nil, fmt.Sprintf("query embedding failed (%s); using BM25", types.Kind(err))
	}

	qctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()
	var matches []vectorstore.Match
	if len(filter) > 0 {
		matches, err = r.opts.Store.QueryFiltered(qctx, r.opts.Namespace, vec, topK, filter)
	} else {
		matches, err = r.opts.Store.Query(qctx, r.opts.Namespace, vec, topK)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: query timed out after %s: %w", types.ErrBackendUnavailable, r.opts.QueryTimeout, err)
		}
		metrics.Degrade(metrics.ReasonVectorBackend)
		r.logger.Warn("vector query failed", "backend", r.opts.Store.Kind(), "error", err)
		return nil, fmt.Sprintf("vector backend %s unavailable (%s); using BM25", r.opts.Store.Kind(), types.Kind(err))
	}

	out := matches[:0:0]
	for _, m := range matches {
		if m.Score < MinVectorScore {
			continue
		}
		if _, ok := r.byID[m.ID]; !ok {
			continue
		}
		out = append(out, m)
	}
	return out, ""
}

// rerank replaces the scores of the top RerankTopK results with reranker
// scores and reorders that prefix. The remaining results are rescaled to
// at most the lowest reranked score, keeping their relative order, so a
// later re-sort cannot lift them into the reranked prefix. Any failure
// leaves ranked unchanged.
func (r *Retriever) rerank(ctx context.Context, query string, ranked []Ranked, tokens []string) ([]Ranked, string) {
	if r.opts.Reranker == nil || len(ranked) == 0 {
		return ranked, ""
	}
	n := min(len(ranked), r.opts.RerankTopK)
	passages := make([]Passage, n)
	for i := 0; i < n; i++ {
		c, _ := r.chunk(ranked[i].ID)
		passages[i] = Passage{Path: c.Path, Snippet: Snippet(c.Text, tokens)}
	}

	scores, err := r.opts.Reranker.Score(ctx, query, passages)
	if err == nil && len(scores) != n {
		err = fmt.Errorf("reranker returned %d scores for %d passages", len(scores), n)
	}
	if err != nil {
		metrics.Degrade(metrics.ReasonRerank)
		r.logger.Warn("rerank failed, keeping fused order", "error", err)
		return ranked, "rerank failed; kept fused order"
	}

	out := make([]Ranked, len(ranked))
	copy(out, ranked)
	for i := 0; i < n; i++ {
		out[i].Score = scores[i]
	}
	sortRanked(out[:n])
	scaleBelow(out[n:], out[n-1].Score)
	return out, ""
}

// scaleBelow maps tail scores proportionally into [0, floor]. A floor at
// or below zero flattens the tail to the floor.
func scaleBelow(tail []Ranked, floor float64) {
	top := 0.0
	for _, rk := range tail {
		top = max(top, rk.Score)
	}
	for i := range tail {
		if floor <= 0 || top <= 0 {
			tail[i].Score = min(floor, 0)
			continue
		}
		tail[i].Score = floor * max(tail[i].Score, 0) / top
	}
}

// allowed reports whether chunk idx satisfies filter.
func (r *Retriever) allowed(idx int, filter vectorstore.Filter) bool {
	if len(filter) == 0 {
		return true
	}
	c := r.chunks[idx]
	return filter.Matches(vectorstore.ChunkMetadata(c.Path, c.StartLine, c.EndLine, c.Lang))
}

func (r *Retriever) chunk(id string) (types.Chunk, bool) {
	i, ok := r.byID[id]
	if !ok {
		return types.Chunk{}, false
	}
	return r.chunks[i], true
}

func toRanked(ids []string, scores map[string]float64) []Ranked {
	out := make([]Ranked, len(ids))
	for i, id := range ids {
		out[i] = Ranked{ID: id, Score: scores[id]}
	}
	return out
}

func validateRequest(req *SearchRequest) error {
	if types.IsBlank(req.Query) {
		return fmt.Errorf("query cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// Chunks returns the indexed chunks in index order.
func (r *Retriever) Chunks() []types.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks
}

// Chunk looks up a chunk by id.
func (r *Retriever) Chunk(id string) (types.Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunk(id)
}

// ChunksForPath returns the chunks of one file in line order.
func (r *Retriever) ChunksForPath(p string) []types.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idxs := r.byPath[p]
	out := make([]types.Chunk, len(idxs))
	for i, idx := range idxs {
		out[i] = r.chunks[idx]
	}
	return out
}

// CodeMap returns the code map the retriever expands neighbors with.
func (r *Retriever) CodeMap() *types.CodeMap { return r.opts.CodeMap }

// Backend returns the vector backend kind the retriever was built for.
func (r *Retriever) Backend() types.Backend { return r.opts.Backend }

// HasVectors reports whether vector search is enabled.
func (r *Retriever) HasVectors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasVector
}

// Len returns the number of indexed chunks.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// InvalidateCache drops every cached response.
func (r *Retriever) InvalidateCache() {
	r.cacheMu.Lock()
	r.cache.Purge()
	r.cacheMu.Unlock()
}

func (r *Retriever) checkCache(req SearchRequest) *SearchResponse {
	key := queryKey(req)
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		r.cache.Remove(key)
		return nil
	}
	return copyResponse(entry.response)
}

func (r *Retriever) storeInCache(req SearchRequest, resp *SearchResponse) {
	r.cacheMu.Lock()
	r.cache.Add(queryKey(req), &cacheEntry{response: copyResponse(resp), expiresAt: time.Now().Add(req.CacheTTL)})
	r.cacheMu.Unlock()
}

func copyResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.RetrievalResult, len(src.Results))
	for i, res := range src.Results {
		res.Neighbors = append([]string(nil), res.Neighbors...)
		dst.Results[i] = res
	}
	dst.Notes = append([]string(nil), src.Notes...)
	return &dst
}

func queryKey(req SearchRequest) [32]byte {
	s := req.Query + "|" + string(req.Mode) + "|" + strconv.Itoa(req.Limit) + "|" + strconv.FormatBool(req.SkipNeighbors)
	keys := make([]string, 0, len(req.Filter))
	for k := range req.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s += "|" + k + "=" + req.Filter[k]
	}
	return sha256.Sum256([]byte(s))
}
