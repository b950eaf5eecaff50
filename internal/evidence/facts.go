package evidence

import (
	"path"
	"sort"
	"strings"

	"github.com/dshills/repoqa/internal/parser"
	"github.com/dshills/repoqa/pkg/types"
)

// RepoFacts is a lightweight summary of a repository used to bias
// probe planning.
type RepoFacts struct {
	Languages   map[string]int `json:"languages"`
	Frameworks  []string       `json:"frameworks"`
	TopDirs     []string       `json:"top_dirs"`
	EntryPoints []string       `json:"entry_points"`
}

// frameworkHints maps a lowercase import or path fragment to a framework.
var frameworkHints = []struct {
	fragment  string
	framework string
}{
	{"django", "Django"},
	{"flask", "Flask"},
	{"fastapi", "FastAPI"},
	{"pytest", "pytest"},
	{"react", "React"},
	{"@angular", "Angular"},
	{"vue", "Vue"},
	{"express", "Express"},
	{"next/", "Next.js"},
	{"springframework", "Spring"},
	{"junit", "JUnit"},
	{"gin-gonic/gin", "Gin"},
	{"labstack/echo", "Echo"},
	{"spf13/cobra", "Cobra"},
}

var entryNames = map[string]bool{
	"main": true, "app": true, "index": true, "server": true, "manage": true, "cli": true, "__main__": true,
}

// BuildFacts derives RepoFacts from a CodeMap. Languages come from file
// extensions, frameworks from imports and file names.
func BuildFacts(cm *types.CodeMap) RepoFacts {
	facts := RepoFacts{Languages: map[string]int{}}
	if cm == nil {
		return facts
	}

	found := map[string]bool{}
	dirs := map[string]bool{}
	note := func(s string) {
		s = strings.ToLower(s)
		for _, h := range frameworkHints {
			if strings.Contains(s, h.fragment) {
				found[h.framework] = true
			}
		}
	}

	for _, f := range cm.Files {
		facts.Languages[parser.DetectLanguage(f)]++
		if i := strings.IndexByte(f, '/'); i > 0 {
			dirs[f[:i]] = true
		}
		base := path.Base(f)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if entryNames[strings.ToLower(stem)] {
			facts.EntryPoints = append(facts.EntryPoints, f)
		}
		switch ext := path.Ext(f); ext {
		case ".jsx", ".tsx":
			found["React"] = true
		case ".tf":
			found["Terraform"] = true
		}
		note(f)
	}
	for _, mods := range cm.Deps {
		for _, m := range mods {
			note(m)
		}
	}

	for fw := range found {
		facts.Frameworks = append(facts.Frameworks, fw)
	}
	sort.Strings(facts.Frameworks)
	for d := range dirs {
		facts.TopDirs = append(facts.TopDirs, d)
	}
	sort.Strings(facts.TopDirs)
	return facts
}

// ResolvePaths normalizes candidate paths against repository files:
// exact matches first, otherwise the longest file ending with the
// candidate. Unresolvable candidates are dropped; the result is
// deduplicated.
func ResolvePaths(candidates, files []string) []string {
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		best := ""
		if known[c] {
			best = c
		} else {
			for _, f := range files {
				if strings.HasSuffix(f, c) && len(f) > len(best) {
					best = f
				}
			}
		}
		if best != "" && !seen[best] {
			seen[best] = true
			out = append(out, best)
		}
	}
	return out
}
