package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoqa/internal/vectorstore"
	"github.com/dshills/repoqa/pkg/types"
)

// fakeEmbedder returns a fixed vector per query, or err.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string, _ int) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 1}, nil
}

// failingStore accepts upserts and fails every query.
type failingStore struct {
	*vectorstore.Memory
}

func (failingStore) Query(context.Context, string, []float32, int) ([]vectorstore.Match, error) {
	return nil, fmt.Errorf("%w: connection refused", types.ErrBackendUnavailable)
}

func (failingStore) QueryFiltered(context.Context, string, []float32, int, vectorstore.Filter) ([]vectorstore.Match, error) {
	return nil, fmt.Errorf("%w: connection refused", types.ErrBackendUnavailable)
}

// opaqueStore hides every method beyond the Store interface.
type opaqueStore struct {
	vectorstore.Store
}

// fakeReranker returns fixed scores, or err.
type fakeReranker struct {
	scores []float64
	err    error
	seen   []Passage
}

func (f *fakeReranker) Score(_ context.Context, _ string, passages []Passage) ([]float64, error) {
	f.seen = passages
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(passages)], nil
}

func chunk(id, path, text string) types.Chunk {
	return types.Chunk{ID: id, Path: path, StartLine: 1, EndLine: 1, Text: text, Lang: "python"}
}

func ids(results []types.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestSearch_BM25(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{
		chunk("c1", "src/app.py", "def main():\n    print('hello')"),
		chunk("c2", "README.md", "# Test App\nPurpose: demonstration"),
	}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "what is the purpose?"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "README.md", resp.Results[0].Path)
	assert.Equal(t, ModeHybrid, resp.Mode)
	assert.Empty(t, resp.Notes)
	assert.Equal(t, 1, resp.TextResults)
	assert.Zero(t, resp.VectorResults)
}

func TestSearch_ExplicitBM25ModeKeepsRawScores(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{
		chunk("c1", "a.py", "token token token"),
		chunk("c2", "b.py", "token other words here"),
	}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "token", Mode: ModeBM25, SkipNeighbors: true})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, ids(resp.Results))
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Greater(t, resp.Results[1].Score, 0.0)
}

func TestSearch_InvalidRequest(t *testing.T) {
	r := New(Options{})
	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"empty query", SearchRequest{Query: ""}},
		{"blank query", SearchRequest{Query: "   "}},
		{"bad mode", SearchRequest{Query: "x", Mode: "fuzzy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Search(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}

func TestSearch_NeighborExpansionThroughImports(t *testing.T) {
	r := New(Options{CodeMap: &types.CodeMap{
		Files: []string{"p1", "p2"},
		Deps:  map[string][]string{"p1": {"p2"}},
	}})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{
		chunk("c1", "p1", "alpha beta"),
		chunk("c2", "p2", "gamma delta"),
	}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "alpha", Limit: 4})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, ids(resp.Results))
	assert.InDelta(t, 0.5*resp.Results[0].Score, resp.Results[1].Score, 1e-12)

	resp, err = r.Search(context.Background(), SearchRequest{Query: "alpha", Limit: 4, SkipNeighbors: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(resp.Results))
}

func TestSearch_NeighborExpansionAdjacency(t *testing.T) {
	c1 := chunk("c1", "a.py", "needle here")
	c1.Neighbors = []string{"c2"}
	c2 := chunk("c2", "a.py", "nothing relevant")
	c2.Neighbors = []string{"c1"}
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{c1, c2}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "needle", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, ids(resp.Results))
	assert.InDelta(t, resp.Results[0].Score*NeighborWeight, resp.Results[1].Score, 1e-12)
}

func TestSearch_NeverExceedsLimit(t *testing.T) {
	var chunks []types.Chunk
	for i := 0; i < 30; i++ {
		c := chunk(fmt.Sprintf("c%d", i), fmt.Sprintf("f%d.py", i), "shared term")
		if i > 0 {
			c.Neighbors = []string{fmt.Sprintf("c%d", i-1)}
		}
		chunks = append(chunks, c)
	}
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), chunks, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "shared", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
}

func vectorRetriever(t *testing.T, emb QueryEmbedder, store vectorstore.Store) *Retriever {
	t.Helper()
	r := New(Options{Embedder: emb, Store: store, Dim: 2, Namespace: "s1"})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{
		chunk("c1", "a.py", "alpha"),
		chunk("c2", "b.py", "beta"),
	}, [][]float32{{1, 0}, {0, 1}}))
	return r
}

func TestSearch_VectorMode(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"zzz": {0, 1}}}
	r := vectorRetriever(t, emb, vectorstore.NewMemory())
	assert.True(t, r.HasVectors())

	resp, err := r.Search(context.Background(), SearchRequest{Query: "zzz", Mode: ModeVector, SkipNeighbors: true})
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, ids(resp.Results))
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.Equal(t, ModeVector, resp.Mode)
	assert.Equal(t, 1, emb.calls)
}

func TestSearch_HybridFusesBothLists(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"alpha": {0, 1}}}
	r := vectorRetriever(t, emb, vectorstore.NewMemory())

	resp, err := r.Search(context.Background(), SearchRequest{Query: "alpha", SkipNeighbors: true})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.VectorResults)
	assert.Equal(t, 1, resp.TextResults)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(resp.Results))
	for _, res := range resp.Results {
		assert.InDelta(t, 1.0/61, res.Score, 1e-12)
	}
}

func TestSearch_Degradation(t *testing.T) {
	tests := []struct {
		name     string
		emb      *fakeEmbedder
		store    vectorstore.Store
		mode     Mode
		wantNote string
		wantMode Mode
	}{
		{
			name:     "query embedding fails",
			emb:      &fakeEmbedder{err: fmt.Errorf("%w: 503", types.ErrEmbeddingTransient)},
			store:    vectorstore.NewMemory(),
			wantNote: "EmbeddingTransient",
			wantMode: ModeHybrid,
		},
		{
			name:     "backend query fails",
			emb:      &fakeEmbedder{},
			store:    failingStore{vectorstore.NewMemory()},
			wantNote: "BackendUnavailable",
			wantMode: ModeHybrid,
		},
		{
			name:     "vector mode falls back to bm25",
			emb:      &fakeEmbedder{err: errors.New("boom")},
			store:    vectorstore.NewMemory(),
			mode:     ModeVector,
			wantNote: "using BM25",
			wantMode: ModeBM25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := vectorRetriever(t, tt.emb, tt.store)
			resp, err := r.Search(context.Background(), SearchRequest{Query: "alpha", Mode: tt.mode})
			require.NoError(t, err)
			require.Len(t, resp.Notes, 1)
			assert.Contains(t, resp.Notes[0], tt.wantNote)
			assert.Equal(t, tt.wantMode, resp.Mode)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, "c1", resp.Results[0].ChunkID)
		})
	}
}

func TestSearch_VectorModeWithoutVectors(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{chunk("c1", "a.py", "alpha")}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "alpha", Mode: ModeVector})
	require.NoError(t, err)
	assert.Equal(t, ModeBM25, resp.Mode)
	assert.Equal(t, []string{"c1"}, ids(resp.Results))
	require.Len(t, resp.Notes, 1)
}

func TestIndexChunks_VectorCountMismatchDisablesVectors(t *testing.T) {
	r := New(Options{Embedder: &fakeEmbedder{}, Store: vectorstore.NewMemory()})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{
		chunk("c1", "a.py", "alpha"),
		chunk("c2", "b.py", "beta"),
	}, [][]float32{{1, 0}}))
	assert.False(t, r.HasVectors())
	assert.Equal(t, 2, r.Len())
}

func TestSearch_Rerank(t *testing.T) {
	chunks := []types.Chunk{
		chunk("c1", "a.py", "token token token"),
		chunk("c2", "b.py", "token other words"),
	}

	t.Run("replaces scores", func(t *testing.T) {
		rr := &fakeReranker{scores: []float64{0.1, 0.9}}
		r := New(Options{Reranker: rr})
		require.NoError(t, r.IndexChunks(context.Background(), chunks, nil))

		resp, err := r.Search(context.Background(), SearchRequest{Query: "token", Mode: ModeBM25, SkipNeighbors: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2", "c1"}, ids(resp.Results))
		assert.Equal(t, 0.9, resp.Results[0].Score)
		assert.Len(t, rr.seen, 2)
		assert.Empty(t, resp.Notes)
	})

	t.Run("error keeps order", func(t *testing.T) {
		rr := &fakeReranker{err: errors.New("model down")}
		r := New(Options{Reranker: rr})
		require.NoError(t, r.IndexChunks(context.Background(), chunks, nil))

		resp, err := r.Search(context.Background(), SearchRequest{Query: "token", Mode: ModeBM25, SkipNeighbors: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, ids(resp.Results))
		require.Len(t, resp.Notes, 1)
		assert.Contains(t, resp.Notes[0], "rerank")
	})

	t.Run("only top k reranked", func(t *testing.T) {
		rr := &fakeReranker{scores: []float64{0.2}}
		r := New(Options{Reranker: rr, RerankTopK: 1})
		require.NoError(t, r.IndexChunks(context.Background(), chunks, nil))

		resp, err := r.Search(context.Background(), SearchRequest{Query: "token", Mode: ModeBM25, SkipNeighbors: true})
		require.NoError(t, err)
		assert.Len(t, rr.seen, 1)
		assert.Len(t, resp.Results, 2)
	})

	t.Run("unreranked tail stays below reranked prefix", func(t *testing.T) {
		tailChunks := []types.Chunk{
			chunk("c1", "a.py", "token token token"),
			chunk("c2", "b.py", "token token other"),
			chunk("c3", "c.py", "token other words"),
		}
		tests := []struct {
			name   string
			scores []float64
		}{
			{"low scores", []float64{0.3, 0.05}},
			{"zero scores", []float64{0, 0}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := &fakeReranker{scores: tt.scores}
				r := New(Options{Reranker: rr, RerankTopK: 2})
				require.NoError(t, r.IndexChunks(context.Background(), tailChunks, nil))

				resp, err := r.Search(context.Background(), SearchRequest{Query: "token", Limit: 3, Mode: ModeBM25})
				require.NoError(t, err)
				require.Len(t, resp.Results, 3)
				assert.Equal(t, "c3", resp.Results[2].ChunkID)
				assert.LessOrEqual(t, resp.Results[2].Score, resp.Results[1].Score)
				assert.LessOrEqual(t, resp.Results[2].Score, tt.scores[1])
			})
		}
	})
}

func TestSearch_Filter(t *testing.T) {
	ctx := context.Background()
	goChunk := chunk("g1", "svc/auth.go", "func login token")
	goChunk.Lang = "go"
	chunks := []types.Chunk{
		chunk("p1", "app/auth.py", "def login token token"),
		goChunk,
		chunk("p2", "app/util.py", "def helper token"),
	}
	emb := &fakeEmbedder{vectors: map[string][]float32{"login token": {1, 0}}}
	r := New(Options{Embedder: emb, Store: vectorstore.NewMemory(), Namespace: "f"})
	require.NoError(t, r.IndexChunks(ctx, chunks, [][]float32{{1, 0}, {1, 0.1}, {0, 1}}))

	tests := []struct {
		name   string
		mode   Mode
		filter vectorstore.Filter
		want   []string
	}{
		{"bm25 by lang", ModeBM25, vectorstore.Filter{vectorstore.MetaLang: "go"}, []string{"g1"}},
		{"vector by lang", ModeVector, vectorstore.Filter{vectorstore.MetaLang: "go"}, []string{"g1"}},
		{"hybrid by path", ModeHybrid, vectorstore.Filter{vectorstore.MetaPath: "app/auth.py"}, []string{"p1"}},
		{"no match", ModeBM25, vectorstore.Filter{vectorstore.MetaLang: "rust"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := r.Search(ctx, SearchRequest{Query: "login token", Mode: tt.mode, Filter: tt.filter})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(resp.Results))
		})
	}

	t.Run("filter is part of the cache key", func(t *testing.T) {
		req := SearchRequest{Query: "login token", Mode: ModeBM25, UseCache: true}
		all, err := r.Search(ctx, req)
		require.NoError(t, err)
		req.Filter = vectorstore.Filter{vectorstore.MetaLang: "go"}
		filtered, err := r.Search(ctx, req)
		require.NoError(t, err)
		assert.False(t, filtered.CacheHit)
		assert.Len(t, all.Results, 3)
		assert.Equal(t, []string{"g1"}, ids(filtered.Results))
	})
}

func TestSearch_Cache(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{chunk("c1", "a.py", "alpha")}, nil))

	req := SearchRequest{Query: "alpha", UseCache: true}
	first, err := r.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := r.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, ids(first.Results), ids(second.Results))

	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{chunk("c9", "z.py", "alpha")}, nil))
	third, err := r.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, []string{"c9"}, ids(third.Results))
}

func TestSearch_SnippetCentersOnMatch(t *testing.T) {
	text := strings.Repeat("a ", 200) + "needle" + strings.Repeat(" b", 200)
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{chunk("c1", "a.py", text)}, nil))

	resp, err := r.Search(context.Background(), SearchRequest{Query: "needle"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Snippet, "needle")
	assert.True(t, strings.HasPrefix(resp.Results[0].Snippet, "..."))
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	cm := &types.CodeMap{Files: []string{"a.py", "b.py"}}

	t.Run("in memory", func(t *testing.T) {
		emb := &fakeEmbedder{vectors: map[string][]float32{"zzz": {0, 1}}}
		r := New(Options{Embedder: emb, Store: vectorstore.NewMemory(), Namespace: "s1", CodeMap: cm})
		require.NoError(t, r.IndexChunks(ctx, []types.Chunk{
			chunk("c1", "a.py", "alpha"),
			chunk("c2", "b.py", "beta"),
		}, [][]float32{{1, 0}, {0, 1}}))

		snap := r.Snapshot()
		assert.Equal(t, 2, snap.VectorCount)
		assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, snap.Vectors)

		restored, err := Restore(ctx, snap, Options{Embedder: emb, Store: vectorstore.NewMemory()})
		require.NoError(t, err)
		assert.True(t, restored.HasVectors())
		assert.Equal(t, cm, restored.CodeMap())

		resp, err := restored.Search(ctx, SearchRequest{Query: "zzz", Mode: ModeVector, SkipNeighbors: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, ids(resp.Results))
	})

	t.Run("external keeps vectors in the store", func(t *testing.T) {
		store := vectorstore.NewMemory()
		emb := &fakeEmbedder{vectors: map[string][]float32{"zzz": {0, 1}}}
		r := New(Options{Embedder: emb, Store: store, Namespace: "s2", Backend: types.BackendExternal})
		require.NoError(t, r.IndexChunks(ctx, []types.Chunk{
			chunk("c1", "a.py", "alpha"),
			chunk("c2", "b.py", "beta"),
		}, [][]float32{{1, 0}, {0, 1}}))

		snap := r.Snapshot()
		assert.Equal(t, 2, snap.VectorCount)
		assert.Nil(t, snap.Vectors)

		restored, err := Restore(ctx, snap, Options{Embedder: emb, Store: store})
		require.NoError(t, err)
		assert.True(t, restored.HasVectors())
		assert.Equal(t, 2, store.Len("s2"))

		resp, err := restored.Search(ctx, SearchRequest{Query: "zzz", Mode: ModeVector, SkipNeighbors: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, ids(resp.Results))
	})

	t.Run("store without export restores bm25 only", func(t *testing.T) {
		emb := &fakeEmbedder{}
		r := New(Options{Embedder: emb, Store: opaqueStore{vectorstore.NewMemory()}, Namespace: "s3"})
		require.NoError(t, r.IndexChunks(ctx, []types.Chunk{chunk("c1", "a.py", "alpha")}, [][]float32{{1, 0}}))
		require.True(t, r.HasVectors())

		snap := r.Snapshot()
		assert.Zero(t, snap.VectorCount)
		assert.Nil(t, snap.Vectors)

		restored, err := Restore(ctx, snap, Options{Embedder: emb, Store: vectorstore.NewMemory()})
		require.NoError(t, err)
		assert.False(t, restored.HasVectors())
		assert.Equal(t, 1, restored.Len())
	})

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := Restore(ctx, nil, Options{})
		assert.ErrorIs(t, err, types.ErrInvalidState)
	})
}

func TestAccessors(t *testing.T) {
	c1 := chunk("c1", "a.py", "x")
	c2 := chunk("c2", "a.py", "y")
	c2.StartLine, c2.EndLine = 2, 2
	r := New(Options{})
	require.NoError(t, r.IndexChunks(context.Background(), []types.Chunk{c1, c2, chunk("c3", "b.py", "z")}, nil))

	got, ok := r.Chunk("c2")
	require.True(t, ok)
	assert.Equal(t, "y", got.Text)
	_, ok = r.Chunk("missing")
	assert.False(t, ok)
	assert.Len(t, r.ChunksForPath("a.py"), 2)
	assert.Len(t, r.Chunks(), 3)
	assert.Equal(t, types.BackendInMemory, r.Backend())
}
