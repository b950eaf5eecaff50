package evidence

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/repoqa/pkg/types"
)

// Categories in report order.
const (
	CategoryCore       = "Core Implementation"
	CategoryConfig     = "Configuration"
	CategoryTests      = "Tests"
	CategoryDocs       = "Documentation"
	CategorySupporting = "Supporting Files"
)

var categoryOrder = []string{CategoryCore, CategoryConfig, CategoryTests, CategoryDocs, CategorySupporting}

// Report limits.
const (
	MaxTotalLines       = 400
	MaxExcerptLines     = 8
	MaxLineChars        = 120
	MaxFilesPerCategory = 5
	MaxReportFiles      = 15
	HighConfidenceScore = 0.5
	minUniqueFiles      = 3
	dedupPrefixChars    = 100
)

// FileEvidence is the evidence gathered for one path.
type FileEvidence struct {
	Path       string        `json:"path"`
	Category   string        `json:"category"`
	MaxScore   float64       `json:"max_score"`
	ProbeTypes []ProbeType   `json:"probe_types"`
	Best       types.DocItem `json:"best"`
	Lines      []string      `json:"lines"`
	Truncated  bool          `json:"truncated"`
}

// Section is one category of the report.
type Section struct {
	Category string         `json:"category"`
	Files    []FileEvidence `json:"files"`
}

// Report is a synthesized evidence pack.
type Report struct {
	Query          string    `json:"query"`
	Sections       []Section `json:"sections"`
	ProbeCount     int       `json:"probe_count"`
	UniqueFiles    int       `json:"unique_files"`
	HighConfidence int       `json:"high_confidence"`
	TotalLines     int       `json:"total_lines"`
	Markdown       string    `json:"markdown"`
}

// DocPack flattens the report into doc items in report order.
func (r *Report) DocPack() []types.DocItem {
	var out []types.DocItem
	for _, s := range r.Sections {
		for _, f := range s.Files {
			item := f.Best
			item.Excerpt = strings.Join(f.Lines, "\n")
			out = append(out, item)
		}
	}
	return out
}

// Categorize assigns a report category from path patterns.
func Categorize(p string) string {
	lp := strings.ToLower(p)
	has := func(pats ...string) bool {
		for _, pat := range pats {
			if strings.Contains(lp, pat) {
				return true
			}
		}
		return false
	}
	switch {
	case has("test", "spec"):
		return CategoryTests
	case has("config", "settings", ".env", ".yaml", ".yml", ".json", ".toml"):
		return CategoryConfig
	case has("readme", "docs", ".md", "documentation"):
		return CategoryDocs
	case has("src/", "lib/", "core/", "internal/", "pkg/", "cmd/", "main", "index", "app"):
		return CategoryCore
	default:
		return CategorySupporting
	}
}

type pathAgg struct {
	path   string
	best   types.DocItem
	max    float64
	probes map[ProbeType]bool
	order  int
}

// Synthesize merges probe results into a ranked, categorized report.
// Items are deduplicated by path and excerpt prefix; paths rank by best
// score, then by how many probe types hit them. The emitted excerpts never
// exceed MaxTotalLines non-blank lines in total; lowest-ranked files are
// removed first.
func Synthesize(query string, results []ProbeResult) *Report {
	rep := &Report{Query: query, ProbeCount: len(results)}

	seen := map[string]bool{}
	byPath := map[string]*pathAgg{}
	var aggs []*pathAgg
	for _, res := range results {
		for _, it := range res.Items {
			key := it.Path + "\x00" + prefix(it.Excerpt, dedupPrefixChars)
			if seen[key] {
				continue
			}
			seen[key] = true
			a, ok := byPath[it.Path]
			if !ok {
				a = &pathAgg{path: it.Path, best: it, max: it.Score, probes: map[ProbeType]bool{}, order: len(aggs)}
				byPath[it.Path] = a
				aggs = append(aggs, a)
			}
			if it.Score > a.best.Score {
				a.best = it
			}
			a.max = max(a.max, it.Score)
			a.probes[res.Probe.Type] = true
		}
	}

	sort.SliceStable(aggs, func(i, j int) bool {
		if aggs[i].max != aggs[j].max {
			return aggs[i].max > aggs[j].max
		}
		return len(aggs[i].probes) > len(aggs[j].probes)
	})
	rep.UniqueFiles = len(aggs)
	for _, a := range aggs {
		if a.max > HighConfidenceScore {
			rep.HighConfidence++
		}
	}

	var ranked []FileEvidence
	perCat := map[string]int{}
	for _, a := range aggs {
		if len(ranked) >= MaxReportFiles {
			break
		}
		cat := Categorize(a.path)
		if perCat[cat] >= MaxFilesPerCategory {
			continue
		}
		perCat[cat]++
		lines, truncated := excerptLines(a.best.Excerpt)
		ranked = append(ranked, FileEvidence{
			Path:       a.path,
			Category:   cat,
			MaxScore:   a.max,
			ProbeTypes: probeTypes(a.probes),
			Best:       a.best,
			Lines:      lines,
			Truncated:  truncated,
		})
	}
	ranked = compressFiles(ranked, MaxTotalLines)

	for _, cat := range categoryOrder {
		var files []FileEvidence
		for _, f := range ranked {
			if f.Category == cat {
				files = append(files, f)
			}
		}
		if len(files) > 0 {
			rep.Sections = append(rep.Sections, Section{Category: cat, Files: files})
		}
	}
	for _, f := range ranked {
		rep.TotalLines += len(f.Lines)
	}
	rep.Markdown = render(rep)
	return rep
}

// compressFiles drops the lowest-ranked files until the total number of
// excerpt lines fits budget.
func compressFiles(files []FileEvidence, budget int) []FileEvidence {
	total := 0
	for _, f := range files {
		total += len(f.Lines)
	}
	for total > budget && len(files) > 0 {
		total -= len(files[len(files)-1].Lines)
		files = files[:len(files)-1]
	}
	return files
}

// excerptLines keeps the first MaxExcerptLines non-blank lines, each cut
// to MaxLineChars characters.
func excerptLines(text string) ([]string, bool) {
	var out []string
	nonBlank := 0
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		nonBlank++
		if len(out) < MaxExcerptLines {
			out = append(out, prefix(strings.TrimRight(l, " \t\r"), MaxLineChars))
		}
	}
	return out, nonBlank > len(out)
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func probeTypes(m map[ProbeType]bool) []ProbeType {
	out := make([]ProbeType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedUnique(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func render(rep *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Answer\n\nBased on the codebase analysis for: %q\n", rep.Query)
	if rep.UniqueFiles == 0 {
		b.WriteString("\nNo evidence found to answer your query.\n")
	}
	for _, s := range rep.Sections {
		fmt.Fprintf(&b, "\n### %s\n\n", s.Category)
		for _, f := range s.Files {
			fmt.Fprintf(&b, "- **%s:%d-%d**\n", f.Path, f.Best.StartLine, f.Best.EndLine)
			if len(f.Lines) == 0 {
				continue
			}
			b.WriteString("  ```\n")
			for _, l := range f.Lines {
				fmt.Fprintf(&b, "  %s\n", l)
			}
			if f.Truncated {
				b.WriteString("  ...\n")
			}
			b.WriteString("  ```\n")
		}
	}
	b.WriteString("\n## Evidence Summary\n\n")
	fmt.Fprintf(&b, "- Analyzed %d probe results\n", rep.ProbeCount)
	fmt.Fprintf(&b, "- Found relevant code in %d unique files\n", rep.UniqueFiles)
	fmt.Fprintf(&b, "- Top matches from %d high-confidence sources\n", rep.HighConfidence)
	if rep.UniqueFiles < minUniqueFiles {
		b.WriteString("\n## Note\n\nLimited evidence found. Consider:\n")
		b.WriteString("- Refining your query with more specific terms\n")
		b.WriteString("- Checking if the repository has been properly indexed\n")
		b.WriteString("- Verifying that the feature/component exists in the codebase\n")
	}
	return b.String()
}
