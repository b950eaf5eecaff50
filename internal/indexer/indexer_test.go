package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoqa/pkg/types"
)

// mockEmbedder records every text it is asked to embed.
type mockEmbedder struct {
	mu    sync.Mutex
	seen  []string
	calls int
	err   error
}

func (m *mockEmbedder) EmbedTexts(_ context.Context, texts []string, dim int) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	m.seen = append(m.seen, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

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

var all = []string{"**"}

func TestIngest_TinyRepo(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/app.py": "def main():\n    print('hello')\n",
		"README.md":  "# Test App\nPurpose: demonstration\n",
	})

	res, err := New().Ingest(context.Background(), root, Options{Include: all, Repo: "demo"})
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "src/app.py"}, res.CodeMap.Files)
	assert.Equal(t, "demo", res.CodeMap.Repo)
	assert.Equal(t, "workspace", res.CodeMap.Commit)
	assert.Equal(t, 2, res.Stats.FilesIndexed)
	assert.Zero(t, res.Stats.FilesSkipped)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "demo:workspace:README.md#1-2", res.Chunks[0].ID)
	assert.Equal(t, []string{"src/app.py"}, res.CodeMap.SymbolIndex["main"])
	for _, c := range res.Chunks {
		require.NoError(t, c.Validate())
	}
}

func TestIngest_DanglingSymlink(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/app.py": "def main():\n    print('hello')\n",
	})
	if err := os.Symlink("missing", filepath.Join(root, "src", "broken.py")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res, err := New().Ingest(context.Background(), root, Options{Include: all, Repo: "demo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.py"}, res.CodeMap.Files)
	require.Len(t, res.Chunks, 1)
}

func TestIngest_BlankFileYieldsNoChunks(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/blank.py": "\n   \n\t\n\n",
		"src/app.py":   "def main():\n    return 1\n",
	})

	res, err := New().Ingest(context.Background(), root, Options{Include: all})
	require.NoError(t, err)

	assert.Contains(t, res.CodeMap.Files, "src/blank.py")
	for _, c := range res.Chunks {
		assert.NotEqual(t, "src/blank.py", c.Path)
		assert.False(t, types.IsBlank(c.Text))
	}
}

func TestIngest_SkipsUnreadableFiles(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/app.py":  "def main():\n    return 1\n",
		"src/data.py": "abc\x00\x00\x00def",
	})

	var processed []string
	res, err := New().Ingest(context.Background(), root, Options{
		Include: all,
		OnProgress: func(p Progress) {
			processed = append(processed, p.Path)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.FilesIndexed)
	assert.Equal(t, 1, res.Stats.FilesSkipped)
	require.Len(t, res.Stats.ErrorMessages, 1)
	assert.True(t, strings.HasPrefix(res.Stats.ErrorMessages[0], "src/data.py"))
	assert.Equal(t, []string{"src/app.py"}, res.CodeMap.Files)
	assert.Equal(t, []string{"src/app.py", "src/data.py"}, processed)
}

func TestIngest_Deterministic(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/a.py":       "import b\n\ndef a():\n    return b.b()\n",
		"src/b.py":       "def b():\n    return 2\n",
		"docs/readme.md": "# Docs\n\nSome text.\n",
	})

	idx := New()
	first, err := idx.Ingest(context.Background(), root, Options{Include: all})
	require.NoError(t, err)
	second, err := idx.Ingest(context.Background(), root, Options{Include: all})
	require.NoError(t, err)

	assert.Equal(t, first.CodeMap, second.CodeMap)
	require.Equal(t, len(first.Chunks), len(second.Chunks))
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].ID, second.Chunks[i].ID)
		assert.Equal(t, first.Chunks[i].Neighbors, second.Chunks[i].Neighbors)
	}
}

func TestIngest_ImportNeighbors(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/a.py": "import b\n\ndef a():\n    return b.b()\n",
		"src/b.py": "def b():\n    return 2\n",
	})

	res, err := New().Ingest(context.Background(), root, Options{Include: all})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, res.CodeMap.Deps["src/a.py"])
	var a, b types.Chunk
	for _, c := range res.Chunks {
		switch c.Path {
		case "src/a.py":
			a = c
		case "src/b.py":
			b = c
		}
	}
	assert.Contains(t, a.Neighbors, b.ID)
}

func TestIngest_Cancelled(t *testing.T) {
	root := writeRepo(t, map[string]string{"src/app.py": "x = 1\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Ingest(ctx, root, Options{Include: all})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_MissingRoot(t *testing.T) {
	_, err := New().Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "a", Text: "def a(): pass"},
		{ID: "blank", Text: "  \n\t"},
		{ID: "b", Text: "def b(): pass"},
	}

	t.Run("filters blank text", func(t *testing.T) {
		emb := &mockEmbedder{}
		kept, vecs, err := Embed(context.Background(), emb, chunks, 8)
		require.NoError(t, err)
		require.Len(t, kept, 2)
		assert.Len(t, vecs, 2)
		assert.Equal(t, "a", kept[0].ID)
		assert.Equal(t, "b", kept[1].ID)
		for _, s := range emb.seen {
			assert.False(t, types.IsBlank(s))
		}
	})

	t.Run("nothing to embed", func(t *testing.T) {
		emb := &mockEmbedder{}
		_, _, err := Embed(context.Background(), emb, []types.Chunk{{Text: " "}}, 8)
		assert.ErrorIs(t, err, types.ErrIndexEmpty)
		assert.Zero(t, emb.calls)
	})

	t.Run("embedding error", func(t *testing.T) {
		emb := &mockEmbedder{err: types.ErrEmbeddingTransient}
		_, _, err := Embed(context.Background(), emb, chunks, 8)
		assert.True(t, errors.Is(err, types.ErrEmbeddingTransient))
	})
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	require.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}

func TestIndexLock_Concurrent(t *testing.T) {
	var (
		l        IndexLock
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}
