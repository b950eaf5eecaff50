package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoqa/pkg/types"
)

func TestPlan_KeywordFamilies(t *testing.T) {
	tests := []struct {
		query    string
		contains string
	}{
		{"How does authentication work?", "auth"},
		{"Where is the database schema?", "database"},
		{"List the API endpoints", "routes"},
		{"How are unit tests organized?", "test"},
		{"Which React component renders the page?", "components"},
		{"What configuration settings exist?", "config"},
		{"How do we deploy with docker?", "docker"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			probes := Plan(tt.query, nil)
			require.NotEmpty(t, probes)
			assert.LessOrEqual(t, len(probes), MaxProbes)
			found := false
			for _, p := range probes {
				if strings.Contains(strings.ToLower(p.Query), tt.contains) {
					found = true
				}
			}
			assert.True(t, found, "no probe mentions %q: %+v", tt.contains, probes)
		})
	}
}

func TestPlan_GenericTerms(t *testing.T) {
	probes := Plan("explain the tokenizer pipeline stages", nil)
	require.Len(t, probes, 3)
	assert.Equal(t, Probe{ProbeCodeSearch, "explain tokenizer pipeline", 10}, probes[0])
	assert.Equal(t, Probe{ProbeSymbolLookup, "Explain Tokenizer Pipeline", 5}, probes[1])
	assert.Equal(t, Probe{ProbeFileList, "**/*explain*", 5}, probes[2])
}

func TestPlan_OnlyStopwords(t *testing.T) {
	probes := Plan("how does this work?", nil)
	require.Len(t, probes, 2)
	assert.Equal(t, ProbeCodeSearch, probes[0].Type)
	assert.Equal(t, "how does this work?", probes[0].Query)
}

func TestPlan_FrameworksAndCap(t *testing.T) {
	facts := &RepoFacts{Frameworks: []string{"Django", "React", "Vue"}}

	probes := Plan("explain tokenizer", facts)
	require.Len(t, probes, 5)
	assert.Equal(t, Probe{ProbeCodeSearch, "django", 5}, probes[3])
	assert.Equal(t, Probe{ProbeCodeSearch, "react", 5}, probes[4])

	probes = Plan("How does authentication work?", facts)
	assert.Len(t, probes, MaxProbes)
}

func TestPlan_Deduplicates(t *testing.T) {
	facts := &RepoFacts{Frameworks: []string{"Tokenizer"}}
	probes := Plan("tokenizer", facts)
	seen := map[string]bool{}
	for _, p := range probes {
		k := string(p.Type) + "|" + p.Query
		assert.False(t, seen[k], "duplicate probe %v", p)
		seen[k] = true
	}
	assert.Len(t, probes, 3)
}

func TestBuildFacts(t *testing.T) {
	cm := &types.CodeMap{
		Files: []string{"src/app.py", "src/views/home.tsx", "infra/main.tf", "README.md"},
		Deps:  map[string][]string{"src/app.py": {"flask", "os"}},
	}
	facts := BuildFacts(cm)
	assert.Equal(t, []string{"Flask", "React", "Terraform"}, facts.Frameworks)
	assert.Equal(t, []string{"infra", "src"}, facts.TopDirs)
	assert.Equal(t, 1, facts.Languages["python"])
	assert.Equal(t, []string{"src/app.py", "infra/main.tf"}, facts.EntryPoints)

	empty := BuildFacts(nil)
	assert.Empty(t, empty.Frameworks)
}

func TestResolvePaths(t *testing.T) {
	files := []string{"client/src/App.js", "src/App.js", "server/app.py"}
	got := ResolvePaths([]string{"src/App.js", "App.js", " ", "missing.go", "app.py"}, files)
	assert.Equal(t, []string{"src/App.js", "client/src/App.js", "server/app.py"}, got)
}

func TestCategorize(t *testing.T) {
	tests := map[string]string{
		"src/auth/login.py":  CategoryCore,
		"tests/test_auth.py": CategoryTests,
		"web/login.spec.ts":  CategoryTests,
		"configs/app.yaml":   CategoryConfig,
		"package.json":       CategoryConfig,
		"docs/guide.md":      CategoryDocs,
		"README.md":          CategoryDocs,
		"main.go":            CategoryCore,
		"scripts/cleanup.sh": CategorySupporting,
	}
	for p, want := range tests {
		assert.Equal(t, want, Categorize(p), p)
	}
}

// fakeIndex serves doc items from an in-memory table.
type fakeIndex struct {
	search   map[string][]types.DocItem
	excerpts map[string]string
	err      error
	queries  []string
}

func (f *fakeIndex) CollectEvidence(_ context.Context, query string, k int) ([]types.DocItem, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	items := f.search[query]
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

func (f *fakeIndex) FileExcerpt(p string) (types.DocItem, bool) {
	text, ok := f.excerpts[p]
	if !ok {
		return types.DocItem{}, false
	}
	return types.DocItem{Path: p, StartLine: 1, EndLine: strings.Count(text, "\n") + 1, Excerpt: text}, true
}

func authRepo() (*fakeIndex, *types.CodeMap) {
	login := "def login(user, password):\n    return check_auth(user, password)\n"
	test := "def test_login():\n    assert login('a', 'b')\n"
	idx := &fakeIndex{
		search: map[string][]types.DocItem{
			"authentication login auth": {
				{Path: "src/auth/login.py", StartLine: 1, EndLine: 2, Score: 0.03, Excerpt: login},
				{Path: "tests/test_auth.py", StartLine: 1, EndLine: 2, Score: 0.015, Excerpt: test},
			},
		},
		excerpts: map[string]string{"src/auth/login.py": login, "tests/test_auth.py": test},
	}
	cm := &types.CodeMap{
		Files:       []string{"src/auth/login.py", "tests/test_auth.py"},
		SymbolIndex: map[string][]string{"login": {"src/auth/login.py"}, "check_auth": {"src/auth/login.py"}},
	}
	return idx, cm
}

func TestAuthEvidencePack(t *testing.T) {
	idx, cm := authRepo()
	query := "How does authentication work?"

	probes := Plan(query, nil)
	require.NotEmpty(t, probes)
	hasAuth := false
	for _, p := range probes {
		if strings.Contains(p.Query, "auth") {
			hasAuth = true
		}
	}
	assert.True(t, hasAuth)

	results := NewRunner(idx, cm).Run(context.Background(), probes)
	require.Len(t, results, len(probes))
	rep := Synthesize(query, results)

	sections := map[string][]string{}
	for _, s := range rep.Sections {
		for _, f := range s.Files {
			sections[s.Category] = append(sections[s.Category], f.Path)
		}
	}
	assert.Contains(t, sections[CategoryCore], "src/auth/login.py")
	assert.Contains(t, sections[CategoryTests], "tests/test_auth.py")
	assert.Equal(t, 2, rep.UniqueFiles)
	assert.Contains(t, rep.Markdown, "### Core Implementation")
	assert.Contains(t, rep.Markdown, "- **src/auth/login.py:1-")
	assert.Contains(t, rep.Markdown, "Refining your query")

	pack := rep.DocPack()
	require.Len(t, pack, 2)
	assert.Equal(t, "src/auth/login.py", pack[0].Path)
}

func TestRunner_ProbeKinds(t *testing.T) {
	idx, cm := authRepo()
	r := NewRunner(idx, cm)

	res := r.Run(context.Background(), []Probe{
		{ProbeSymbolLookup, "check_auth", 5},
		{ProbeFileList, "**/auth/**", 5},
		{ProbeFileList, "test_*.py", 5},
		{ProbeCodeSearch, "authentication login auth", 1},
		{ProbeSymbolLookup, "NoSuchSymbol", 5},
		{"bogus", "x", 1},
	})
	require.Len(t, res, 6)

	require.Len(t, res[0].Items, 1)
	assert.Equal(t, SymbolHitScore, res[0].Items[0].Score)
	require.Len(t, res[1].Items, 1)
	assert.Equal(t, "src/auth/login.py", res[1].Items[0].Path)
	assert.Equal(t, FileHitScore, res[1].Items[0].Score)
	require.Len(t, res[2].Items, 1)
	assert.Equal(t, "tests/test_auth.py", res[2].Items[0].Path)
	require.Len(t, res[3].Items, 1)
	assert.Equal(t, 1.0, res[3].Items[0].Score)
	assert.Empty(t, res[4].Items)
	assert.Contains(t, idx.queries, "NoSuchSymbol")
	assert.NotEmpty(t, res[5].Error)
}

func TestRunner_SearchErrorIsRecorded(t *testing.T) {
	idx := &fakeIndex{err: errors.New("index gone")}
	res := NewRunner(idx, nil).Run(context.Background(), []Probe{{ProbeCodeSearch, "x", 3}, {ProbeFileList, "*.go", 3}})
	require.Len(t, res, 2)
	assert.Equal(t, "index gone", res[0].Error)
	assert.Equal(t, "index gone", res[1].Error)
}

func TestSynthesize_DedupAndRanking(t *testing.T) {
	excerpt := strings.Repeat("x", 150)
	results := []ProbeResult{
		{Probe: Probe{Type: ProbeCodeSearch}, Items: []types.DocItem{
			{Path: "src/a.py", Score: 0.9, Excerpt: excerpt},
			{Path: "src/b.py", Score: 0.4, Excerpt: "b"},
		}},
		{Probe: Probe{Type: ProbeFileList}, Items: []types.DocItem{
			{Path: "src/a.py", Score: 0.9, Excerpt: excerpt + "different tail"},
			{Path: "src/b.py", Score: 0.4, Excerpt: "other b"},
			{Path: "src/c.py", Score: 0.4, Excerpt: "c"},
		}},
	}
	rep := Synthesize("q", results)
	require.Len(t, rep.Sections, 1)
	files := rep.Sections[0].Files
	require.Len(t, files, 3)
	assert.Equal(t, "src/a.py", files[0].Path)
	assert.Equal(t, []ProbeType{ProbeCodeSearch}, files[0].ProbeTypes)
	assert.Equal(t, "src/b.py", files[1].Path, "two probe types outrank one at equal score")
	assert.Equal(t, 1, rep.HighConfidence)
	assert.Equal(t, 3, rep.UniqueFiles)
	assert.NotContains(t, rep.Markdown, "Limited evidence")
}

func TestSynthesize_ExcerptBounds(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("y", 200), "")
	}
	results := []ProbeResult{{Probe: Probe{Type: ProbeCodeSearch}, Items: []types.DocItem{
		{Path: "src/big.py", Score: 1, Excerpt: strings.Join(lines, "\n")},
	}}}
	rep := Synthesize("q", results)
	f := rep.Sections[0].Files[0]
	assert.Len(t, f.Lines, MaxExcerptLines)
	assert.True(t, f.Truncated)
	for _, l := range f.Lines {
		assert.LessOrEqual(t, len([]rune(l)), MaxLineChars)
	}
}

func TestSynthesize_PerCategoryCapAndTotalLines(t *testing.T) {
	var items []types.DocItem
	for i := 0; i < 40; i++ {
		items = append(items, types.DocItem{
			Path:    fmt.Sprintf("dir%d/file%d.txt", i, i),
			Score:   float64(40-i) / 40,
			Excerpt: strings.Repeat("line\n", 20),
		})
	}
	rep := Synthesize("q", []ProbeResult{{Probe: Probe{Type: ProbeCodeSearch}, Items: items}})
	require.Len(t, rep.Sections, 1)
	assert.Len(t, rep.Sections[0].Files, MaxFilesPerCategory)
	assert.LessOrEqual(t, rep.TotalLines, MaxTotalLines)
	assert.Equal(t, "dir0/file0.txt", rep.Sections[0].Files[0].Path)
}

func TestSynthesize_Empty(t *testing.T) {
	rep := Synthesize("q", nil)
	assert.Empty(t, rep.Sections)
	assert.Contains(t, rep.Markdown, "No evidence found")
}

func TestCompressFiles(t *testing.T) {
	files := []FileEvidence{
		{Path: "a", Lines: make([]string, 6)},
		{Path: "b", Lines: make([]string, 6)},
		{Path: "c", Lines: make([]string, 6)},
	}
	got := compressFiles(files, 12)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Path)
	assert.Empty(t, compressFiles(files, 0))
}

func TestCompressDocPack(t *testing.T) {
	mk := func(p string, n int) types.DocItem {
		return types.DocItem{Path: p, Excerpt: strings.Repeat("code\n\n", n)}
	}
	items := []types.DocItem{mk("a", 200), mk("b", 150), mk("c", 100)}

	got := CompressDocPack(items, MaxTotalLines)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Path)

	total := 0
	for _, it := range got {
		total += NonBlankLines(it.Excerpt)
	}
	assert.LessOrEqual(t, total, MaxTotalLines)

	single := CompressDocPack([]types.DocItem{mk("big", 500)}, MaxTotalLines)
	require.Len(t, single, 1)
	assert.Equal(t, MaxTotalLines, NonBlankLines(single[0].Excerpt))

	assert.Empty(t, CompressDocPack(nil, 10))
}
