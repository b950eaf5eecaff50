package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoqa/internal/config"
	"github.com/dshills/repoqa/internal/embedder"
	"github.com/dshills/repoqa/internal/evidence"
	"github.com/dshills/repoqa/internal/metrics"
	"github.com/dshills/repoqa/internal/session"
	"github.com/dshills/repoqa/pkg/types"
)

// recordingEmbedder embeds with the local hash provider and records every
// text it receives.
type recordingEmbedder struct {
	mu      sync.Mutex
	texts   []string
	queries []string
}

func (e *recordingEmbedder) EmbedTexts(_ context.Context, texts []string, dim int) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedder.HashEmbed(t, dim)
	}
	return out, nil
}

func (e *recordingEmbedder) EmbedQuery(_ context.Context, text string, dim int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, text)
	return embedder.HashEmbed(text, dim), nil
}

type fakeGenerator struct {
	answer string
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return g.answer, g.err
}

func (g *fakeGenerator) Model() string { return "fake-model" }

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

var tinyRepo = map[string]string{
	"src/app.py": "def main():\n    print('hello')\n",
	"README.md":  "# Test App\nPurpose: demonstration\n",
}

var authRepo = map[string]string{
	"src/auth/login.py": "def authenticate(user, password):\n    return check_password(user, password)\n\n" +
		"def login(request):\n    return authenticate(request.user, request.password)\n",
	"tests/test_auth.py": "from src.auth.login import login\n\n" +
		"def test_login():\n    assert login(FakeRequest())\n",
	"README.md": "# Service\n\nA small web service.\n",
}

func testConfig(t *testing.T, root string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = root
	cfg.SessionID = "test"
	cfg.Docs.Dir = filepath.Join(t.TempDir(), "generated")
	return cfg
}

func newTest(t *testing.T, cfg config.Config, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// forceDecision puts o in the sized state with decision d.
func forceDecision(o *Orchestrator, d types.Decision) {
	o.mu.Lock()
	o.decision = &d
	o.state = StateSized
	o.mu.Unlock()
}

func hasStatus(status []string, sub string) bool {
	for _, s := range status {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestPipeline_TinyRepoBM25(t *testing.T) {
	ctx := context.Background()
	root := writeRepo(t, tinyRepo)
	o := newTest(t, testConfig(t, root), Deps{})

	ing := o.Ingest(ctx)
	require.Empty(t, ing.Error)
	assert.Equal(t, []string{"README.md", "src/app.py"}, ing.Files)
	assert.NotEmpty(t, ing.Commit)
	assert.Equal(t, StateIngested, o.State())

	size := o.SizeAndDecide(ctx)
	require.Empty(t, size.Error)
	assert.False(t, size.Decision.UseEmbeddings)
	assert.Equal(t, 2, size.Report.FileCount)
	assert.True(t, hasStatus(size.Status, "decision: use_embeddings=false"))

	idx := o.Index(ctx)
	require.Empty(t, idx.Error)
	assert.Equal(t, 0, idx.VectorCount)
	assert.Equal(t, types.BackendInMemory, idx.Backend)
	assert.Equal(t, "test", idx.SessionID)
	assert.Equal(t, StateIndexed, o.State())

	ask := o.Ask(ctx, "what is the purpose?", DefaultK, false)
	require.Empty(t, ask.Error)
	assert.Contains(t, ask.Sources, "README.md")
	assert.Equal(t, ModelExtractive, ask.ModelUsed)
	assert.Positive(t, ask.TokenCount)
	assert.Equal(t, "answering: what is the purpose?", ask.Status[0])
	assert.Equal(t, "answer ready", ask.Status[len(ask.Status)-1])
}

func TestAsk_AutoDrivesFromEmpty(t *testing.T) {
	root := writeRepo(t, tinyRepo)
	o := newTest(t, testConfig(t, root), Deps{})

	ask := o.Ask(context.Background(), "purpose", 10, false)
	require.Empty(t, ask.Error)
	assert.True(t, hasStatus(ask.Status, "no index found; indexing now..."))
	assert.True(t, hasStatus(ask.Status, "ingesting repo at"))
	assert.True(t, hasStatus(ask.Status, "indexed 0 vectors using in_memory"))
	assert.Equal(t, StateIndexed, o.State())
	assert.NotNil(t, o.CodeMap())
	assert.NotNil(t, o.Decision())
}

func TestAutoDriveDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeRepo(t, tinyRepo))
	cfg.AutoDrive = false
	o := newTest(t, cfg, Deps{})

	size := o.SizeAndDecide(ctx)
	assert.Contains(t, size.Error, "invalid pipeline state")
	assert.True(t, hasStatus(size.Status, "size_and_decide failed: InvalidState"))

	idx := o.Index(ctx)
	assert.Contains(t, idx.Error, "invalid pipeline state")

	ask := o.Ask(ctx, "purpose", 5, false)
	assert.True(t, ask.Failed())
	assert.True(t, strings.HasPrefix(ask.Answer, "Sorry, I couldn't complete that request"))

	require.Empty(t, o.Ingest(ctx).Error)
	require.Empty(t, o.SizeAndDecide(ctx).Error)
	require.Empty(t, o.Index(ctx).Error)
	assert.Empty(t, o.Ask(ctx, "purpose", 5, false).Error)
}

func TestIndex_BlankFilesNeverReachEmbedder(t *testing.T) {
	ctx := context.Background()
	root := writeRepo(t, map[string]string{
		"src/blank.py": "\n    \n\t\t\n\n   \n",
		"src/app.py":   "def main():\n    return 1\n",
	})
	emb := &recordingEmbedder{}
	o := newTest(t, testConfig(t, root), Deps{Embedder: emb})

	ing := o.Ingest(ctx)
	require.Empty(t, ing.Error)
	assert.Contains(t, ing.Files, "src/blank.py")
	assert.Equal(t, 1, ing.ChunkCount)

	forceDecision(o, types.Decision{UseEmbeddings: true, Backend: types.BackendInMemory})
	idx := o.Index(ctx)
	require.Empty(t, idx.Error)
	assert.Equal(t, 1, idx.VectorCount)

	require.NotEmpty(t, emb.texts)
	for _, s := range emb.texts {
		assert.False(t, types.IsBlank(s), "embedder received blank text %q", s)
	}

	ask := o.Ask(ctx, "main", 5, false)
	require.Empty(t, ask.Error)
	assert.Equal(t, []string{"main"}, emb.queries)
}

func TestIndex_OnlyBlankFiles(t *testing.T) {
	root := writeRepo(t, map[string]string{"src/blank.py": "\n \n"})
	o := newTest(t, testConfig(t, root), Deps{})

	idx := o.Index(context.Background())
	assert.Contains(t, idx.Error, types.ErrIndexEmpty.Error())
	assert.True(t, hasStatus(idx.Status, "index failed: IndexEmpty"))
}

func TestIndex_EmbeddingsNotConfigured(t *testing.T) {
	degrade := metrics.Degradations.WithLabelValues(metrics.ReasonEmbeddings)

	t.Run("falls back to BM25", func(t *testing.T) {
		before := testutil.ToFloat64(degrade)
		o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{})
		require.Empty(t, o.Ingest(context.Background()).Error)
		forceDecision(o, types.Decision{UseEmbeddings: true, Backend: types.BackendInMemory})

		idx := o.Index(context.Background())
		require.Empty(t, idx.Error)
		assert.Equal(t, 0, idx.VectorCount)
		assert.True(t, hasStatus(idx.Status, "falling back to BM25-only"))
		assert.Equal(t, before+1, testutil.ToFloat64(degrade))
	})

	t.Run("fails without fallback", func(t *testing.T) {
		cfg := testConfig(t, writeRepo(t, tinyRepo))
		cfg.BM25Fallback = false
		o := newTest(t, cfg, Deps{})
		require.Empty(t, o.Ingest(context.Background()).Error)
		forceDecision(o, types.Decision{UseEmbeddings: true, Backend: types.BackendInMemory})

		idx := o.Index(context.Background())
		assert.Contains(t, idx.Error, "embeddings required by policy")
		assert.True(t, hasStatus(idx.Status, "index failed: NotConfigured"))
	})
}

func TestIndex_ExternalBackendUnavailable(t *testing.T) {
	degrade := metrics.Degradations.WithLabelValues(metrics.ReasonExternalStore)
	before := testutil.ToFloat64(degrade)

	cfg := testConfig(t, writeRepo(t, tinyRepo))
	cfg.Vector.Endpoint = ""
	o := newTest(t, cfg, Deps{Embedder: &recordingEmbedder{}})
	require.Empty(t, o.Ingest(context.Background()).Error)
	forceDecision(o, types.Decision{UseEmbeddings: true, Backend: types.BackendExternal})

	idx := o.Index(context.Background())
	require.Empty(t, idx.Error)
	assert.Equal(t, types.BackendInMemory, idx.Backend)
	assert.Equal(t, 2, idx.VectorCount)
	assert.True(t, hasStatus(idx.Status, "external vector backend unavailable (NotConfigured)"))
	assert.Equal(t, before+1, testutil.ToFloat64(degrade))
}

func TestIndex_ExternalSQLite(t *testing.T) {
	cfg := testConfig(t, writeRepo(t, tinyRepo))
	cfg.Vector.Kind = "sqlite"
	cfg.Vector.Endpoint = filepath.Join(t.TempDir(), "vectors.db")
	o := newTest(t, cfg, Deps{Embedder: &recordingEmbedder{}})
	require.Empty(t, o.Ingest(context.Background()).Error)
	forceDecision(o, types.Decision{UseEmbeddings: true, Backend: types.BackendExternal})

	idx := o.Index(context.Background())
	require.Empty(t, idx.Error)
	assert.Equal(t, types.BackendExternal, idx.Backend)
	assert.Equal(t, 2, idx.VectorCount)

	ask := o.Ask(context.Background(), "what is the purpose?", 10, false)
	require.Empty(t, ask.Error)
	assert.Contains(t, ask.Sources, "README.md")
}

func TestPipeline_ConcurrentRunFailsFast(t *testing.T) {
	o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{})
	require.True(t, o.lock.TryAcquire())

	ing := o.Ingest(context.Background())
	assert.Contains(t, ing.Error, "another pipeline run is in progress")
	assert.Equal(t, StateEmpty, o.State())

	o.lock.Release()
	assert.Empty(t, o.Ingest(context.Background()).Error)
}

func TestDrop_ReindexesOnNextQuery(t *testing.T) {
	ctx := context.Background()
	o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{})
	require.Empty(t, o.Index(ctx).Error)

	drop := o.Drop(ctx)
	require.Empty(t, drop.Error)
	assert.Equal(t, StateSized, o.State())
	require.Empty(t, o.Drop(ctx).Error)

	ask := o.Ask(ctx, "purpose", 5, false)
	require.Empty(t, ask.Error)
	assert.True(t, hasStatus(ask.Status, "no index found; indexing now..."))
	assert.False(t, hasStatus(ask.Status, "ingesting repo at"))
}

func TestLoadRepo(t *testing.T) {
	ctx := context.Background()
	first := writeRepo(t, tinyRepo)
	second := writeRepo(t, map[string]string{"src/other.py": "def other():\n    return 2\n"})
	o := newTest(t, testConfig(t, first), Deps{})
	require.Empty(t, o.Index(ctx).Error)

	load := o.LoadRepo(ctx, second, "")
	require.Empty(t, load.Error)
	assert.Equal(t, StateEmpty, o.State())
	assert.Nil(t, o.CodeMap())

	ask := o.Ask(ctx, "other", 5, false)
	require.Empty(t, ask.Error)
	assert.Equal(t, []string{"src/other.py"}, ask.Sources)

	missing := o.LoadRepo(ctx, filepath.Join(second, "missing"), "")
	assert.True(t, missing.Failed())
}

func TestAsk_NoResults(t *testing.T) {
	o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{})
	ask := o.Ask(context.Background(), "zzzqqq", 5, false)
	require.Empty(t, ask.Error)
	assert.Equal(t, noResultsAnswer, ask.Answer)
	assert.Empty(t, ask.Sources)
	assert.Equal(t, ModelNone, ask.ModelUsed)
	assert.Zero(t, ask.TokenCount)
}

func TestAsk_AnswerModel(t *testing.T) {
	tests := []struct {
		name      string
		gen       *fakeGenerator
		wantModel string
		wantNote  bool
	}{
		{"model answer", &fakeGenerator{answer: "It demonstrates things. README.md:1-2"}, "fake-model", false},
		{"model error", &fakeGenerator{err: errors.New("quota")}, ModelExtractive, true},
		{"empty answer", &fakeGenerator{answer: "  "}, ModelExtractive, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{Answerer: tt.gen})
			ask := o.Ask(context.Background(), "purpose", 5, false)
			require.Empty(t, ask.Error)
			assert.Equal(t, tt.wantModel, ask.ModelUsed)
			assert.Equal(t, 1, tt.gen.calls)
			assert.Equal(t, tt.wantNote, hasStatus(ask.Status, "using extractive answer"))
		})
	}
}

func TestAsk_WriteDocs(t *testing.T) {
	cfg := testConfig(t, writeRepo(t, tinyRepo))
	o := newTest(t, cfg, Deps{})

	ask := o.Ask(context.Background(), "What is the purpose?", 5, true)
	require.Empty(t, ask.Error)
	assert.Equal(t, filepath.Join(cfg.Docs.Dir, "what-is-the-purpose.md"), ask.DocsPath)

	data, err := os.ReadFile(ask.DocsPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# What is the purpose?\n"))
	assert.Contains(t, string(data), "## Sources\n")
	assert.Contains(t, string(data), "- README.md\n")
}

func TestCollectEvidence(t *testing.T) {
	o := newTest(t, testConfig(t, writeRepo(t, tinyRepo)), Deps{})
	ev := o.CollectEvidence(context.Background(), "purpose demonstration", 10)
	require.Empty(t, ev.Error)
	require.NotEmpty(t, ev.DocPack)
	assert.Equal(t, "README.md", ev.DocPack[0].Path)
	assert.Equal(t, 1, ev.DocPack[0].StartLine)
	assert.Contains(t, ev.DocPack[0].Excerpt, "Purpose: demonstration")
	assert.Equal(t, "purpose demonstration", ev.Query)

	total := 0
	for _, it := range ev.DocPack {
		total += evidence.NonBlankLines(it.Excerpt)
	}
	assert.LessOrEqual(t, total, evidence.MaxTotalLines)
}

func TestCollectEvidence_LineBudget(t *testing.T) {
	files := map[string]string{}
	var body strings.Builder
	for i := range 120 {
		body.WriteString("value_")
		body.WriteString(strings.Repeat("x", i%7+1))
		body.WriteString(" = compute(widget)\n")
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["src/"+name+".py"] = body.String()
	}
	o := newTest(t, testConfig(t, writeRepo(t, files)), Deps{})

	ev := o.CollectEvidence(context.Background(), "compute widget", 50)
	require.Empty(t, ev.Error)
	total := 0
	for _, it := range ev.DocPack {
		total += evidence.NonBlankLines(it.Excerpt)
	}
	assert.LessOrEqual(t, total, evidence.MaxTotalLines)
	assert.NotEmpty(t, ev.DocPack)
}

func TestRepoSynopsis(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"README.md":        "# My App\n\nOverview: test application",
		"src/main.py":      "def main():\n    app.run()",
		"src/routes.py":    "@app.route('/home')\ndef home(): pass",
		"requirements.txt": "flask==2.0.0\nrequests==2.28.0",
		"package.json":     `{"name": "app", "dependencies": {}}`,
	})
	o := newTest(t, testConfig(t, root), Deps{})

	syn := o.RepoSynopsis(context.Background())
	require.Empty(t, syn.Error)
	require.NotEmpty(t, syn.Status)
	assert.True(t, strings.HasPrefix(syn.Status[0], "repo_synopsis collected"))
	require.NotEmpty(t, syn.DocPack)

	paths := map[string]bool{}
	for _, it := range syn.DocPack {
		paths[it.Path] = true
	}
	assert.True(t, paths["README.md"])
	assert.True(t, paths["src/routes.py"])
}

func TestAssembleEvidence_Auth(t *testing.T) {
	o := newTest(t, testConfig(t, writeRepo(t, authRepo)), Deps{})

	res := o.AssembleEvidence(context.Background(), "How does authentication work?", 20)
	require.Empty(t, res.Error)

	var authProbe bool
	for _, p := range res.Probes {
		if strings.Contains(p.Query, "auth") {
			authProbe = true
		}
	}
	assert.True(t, authProbe)
	require.NotNil(t, res.Report)

	byCategory := map[string][]string{}
	for _, s := range res.Report.Sections {
		for _, f := range s.Files {
			byCategory[s.Category] = append(byCategory[s.Category], f.Path)
		}
	}
	assert.Contains(t, byCategory[evidence.CategoryCore], "src/auth/login.py")
	assert.Contains(t, byCategory[evidence.CategoryTests], "tests/test_auth.py")
	assert.Contains(t, res.Answer, "## Evidence Summary")
	assert.NotEmpty(t, res.DocPack)
}

func TestSessionAdoption(t *testing.T) {
	ctx := context.Background()
	root := writeRepo(t, tinyRepo)
	store := session.NewMemory()

	first := newTest(t, testConfig(t, root), Deps{Sessions: store})
	require.Empty(t, first.Index(ctx).Error)

	second := newTest(t, testConfig(t, root), Deps{Sessions: store})
	ask := second.Ask(ctx, "purpose", 5, false)
	require.Empty(t, ask.Error)
	assert.True(t, hasStatus(ask.Status, "using existing index for session test"))
	assert.False(t, hasStatus(ask.Status, "ingesting repo at"))
	assert.Equal(t, StateIndexed, second.State())
	assert.NotNil(t, second.CodeMap())
}

func TestRedisSessionRestore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	root := writeRepo(t, tinyRepo)

	cfg := testConfig(t, root)
	cfg.Session.Backend = "redis"
	cfg.Session.Redis.Addr = mr.Addr()

	emb := &recordingEmbedder{}
	writer := newTest(t, cfg, Deps{Embedder: emb})
	require.Empty(t, writer.Ingest(ctx).Error)
	forceDecision(writer, types.Decision{UseEmbeddings: true, Backend: types.BackendInMemory})
	require.Empty(t, writer.Index(ctx).Error)

	reader := newTest(t, cfg, Deps{Embedder: emb})
	ask := reader.Ask(ctx, "what is the purpose?", 5, false)
	require.Empty(t, ask.Error)
	assert.True(t, hasStatus(ask.Status, "using existing index"))
	assert.Contains(t, ask.Sources, "README.md")
	assert.NotEmpty(t, emb.queries)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Session.Backend = "redis"
	cfg.Session.Redis.Addr = ""

	_, err := New(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, types.ErrNotConfigured)
}

func TestNew_DefaultSessionID(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.SessionID = ""
	o := newTest(t, cfg, Deps{})
	assert.Len(t, o.SessionID(), 36)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateEmpty:    "empty",
		StateIngested: "ingested",
		StateSized:    "sized",
		StateIndexed:  "indexed",
		State(9):      "State(9)",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}
