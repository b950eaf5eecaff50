package types

import (
	"path"
	"sort"
	"strings"
)

// CodeMap is the repository-level index built by ingest.
type CodeMap struct {
	Repo        string              `json:"repo"`
	Commit      string              `json:"commit"`
	Files       []string            `json:"files"`
	Deps        map[string][]string `json:"deps"`
	SymbolIndex map[string][]string `json:"symbol_index"`
}

// ImportGraph holds resolved file-to-file import edges of a CodeMap.
type ImportGraph struct {
	imports   map[string][]string
	importers map[string][]string
}

var moduleExts = []string{".py", ".pyi", ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".go", ".tf", ".sql", ".md"}

// knownPaths returns Files plus any Deps keys not already listed, sorted.
func (m *CodeMap) knownPaths() []string {
	seen := make(map[string]bool, len(m.Files)+len(m.Deps))
	out := make([]string, 0, len(m.Files)+len(m.Deps))
	for _, f := range m.Files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for f := range m.Deps {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// moduleCandidates turns an import string into path-like suffixes.
func moduleCandidates(mod string) []string {
	mod = strings.Trim(strings.TrimSpace(mod), `"'`)
	for trimmed := true; trimmed; {
		trimmed = false
		for _, prefix := range []string{"./", "../", "@/", "~/"} {
			if strings.HasPrefix(mod, prefix) {
				mod = mod[len(prefix):]
				trimmed = true
			}
		}
	}
	mod = strings.Trim(mod, "/.")
	if mod == "" {
		return nil
	}
	for _, ext := range moduleExts {
		if strings.HasSuffix(mod, ext) {
			mod = strings.TrimSuffix(mod, ext)
			break
		}
	}
	cands := []string{mod}
	if !strings.Contains(mod, "/") && strings.Contains(mod, ".") {
		cands = append(cands, strings.ReplaceAll(mod, ".", "/"))
	}
	return cands
}

func hasPathSuffix(p, suffix string) bool {
	return p == suffix || strings.HasSuffix(p, "/"+suffix)
}

// ResolveModule maps an import string to repository files, best effort.
// File stems matching the module suffix win; otherwise the first file of
// a directory matching the module suffix is returned (package imports).
func (m *CodeMap) ResolveModule(mod string) []string {
	cands := moduleCandidates(mod)
	if len(cands) == 0 {
		return nil
	}
	files := m.knownPaths()
	var stems []string
	for _, f := range files {
		stem := strings.TrimSuffix(f, path.Ext(f))
		for _, c := range cands {
			if hasPathSuffix(stem, c) {
				stems = append(stems, f)
				break
			}
		}
	}
	if len(stems) > 0 {
		return stems
	}
	for _, f := range files {
		dir := path.Dir(f)
		if dir == "." {
			continue
		}
		for _, c := range cands {
			if hasPathSuffix(dir, c) || hasPathSuffix(c, dir) && strings.Contains(c, "/") {
				return []string{f}
			}
		}
	}
	return nil
}

// Graph resolves every Deps entry into file-level edges.
func (m *CodeMap) Graph() *ImportGraph {
	g := &ImportGraph{
		imports:   make(map[string][]string),
		importers: make(map[string][]string),
	}
	if m == nil {
		return g
	}
	srcs := make([]string, 0, len(m.Deps))
	for src := range m.Deps {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)
	for _, src := range srcs {
		seen := map[string]bool{src: true}
		for _, mod := range m.Deps[src] {
			for _, dst := range m.ResolveModule(mod) {
				if seen[dst] {
					continue
				}
				seen[dst] = true
				g.imports[src] = append(g.imports[src], dst)
				g.importers[dst] = append(g.importers[dst], src)
			}
		}
	}
	return g
}

// Imports returns the files that p imports.
func (g *ImportGraph) Imports(p string) []string {
	return g.imports[p]
}

// Importers returns the files that import p.
func (g *ImportGraph) Importers(p string) []string {
	return g.importers[p]
}
