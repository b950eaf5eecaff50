package parser

import (
	"regexp"
	"strings"
)

// Caps on extracted lists.
const (
	MaxSymbols = 50
	MaxImports = 50
)

// pattern pairs a regexp with the submatch template that forms a name.
type pattern struct {
	re       *regexp.Regexp
	template string
}

func pat(expr, template string) pattern {
	return pattern{re: regexp.MustCompile(expr), template: template}
}

var symbolPatterns = map[string][]pattern{
	LangPython: {
		pat(`(?m)^[ \t]*(?:async[ \t]+)?(?:def|class)[ \t]+(\w+)`, "$1"),
	},
	LangJavaScript: {
		pat(`\b(?:function\*?|class)\s+(\w+)`, "$1"),
		pat(`\b(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?(?:\(|function\b|\w+\s*=>)`, "$1"),
	},
	LangTypeScript: {
		pat(`\b(?:function\*?|class)\s+(\w+)`, "$1"),
		pat(`\b(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?(?:\(|function\b|\w+\s*=>)`, "$1"),
		pat(`\b(?:interface|enum)\s+(\w+)`, "$1"),
		pat(`\btype\s+(\w+)\s*(?:<[^>]*>)?\s*=`, "$1"),
	},
	LangGo: {
		pat(`(?m)^func\s+(?:\([^)]*\)\s*)?(\w+)`, "$1"),
		pat(`(?m)^type\s+(\w+)`, "$1"),
	},
	LangTerraform: {
		pat(`(?m)^(?:resource|data)\s+"([^"]+)"\s+"([^"]+)"`, "$1.$2"),
		pat(`(?m)^(?:module|variable|output|provider)\s+"([^"]+)"`, "$1"),
	},
	LangSQL: {
		pat(`(?i)\bCREATE\s+(?:OR\s+REPLACE\s+)?(?:TABLE|VIEW|FUNCTION|PROCEDURE)\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+(?:\.\w+)?)`, "$1"),
	},
}

var importPatterns = map[string][]pattern{
	LangPython: {
		pat(`(?m)^[ \t]*from[ \t]+([\w.]+)[ \t]+import\b`, "$1"),
	},
	LangJavaScript: jsImports,
	LangTypeScript: jsImports,
	LangGo: {
		pat(`(?m)^import\s+(?:[\w.]+\s+)?"([^"]+)"`, "$1"),
	},
	LangTerraform: {
		pat(`(?m)^\s*source\s*=\s*"([^"]+)"`, "$1"),
	},
}

var jsImports = []pattern{
	pat(`\bimport\s+(?:[\w*{}\s,$]+?\s+from\s+)?['"]([^'"]+)['"]`, "$1"),
	pat(`\bexport\s+[\w*{}\s,$]*?\s*from\s+['"]([^'"]+)['"]`, "$1"),
	pat(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`, "$1"),
	pat(`\bimport\(\s*['"]([^'"]+)['"]\s*\)`, "$1"),
}

var (
	pyPlainImport = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w.]+(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[\w.]+(?:[ \t]+as[ \t]+\w+)?)*)`)
	goImportBlock = regexp.MustCompile(`(?s)\bimport\s*\((.*?)\)`)
	goQuoted      = regexp.MustCompile(`"([^"]+)"`)
)

// collector keeps unique names in first-seen order up to a cap.
type collector struct {
	seen  map[string]bool
	items []string
	max   int
}

func newCollector(max int) *collector {
	return &collector{seen: make(map[string]bool), max: max}
}

func (c *collector) add(s string) {
	s = strings.TrimSpace(s)
	if s == "" || c.seen[s] || len(c.items) >= c.max {
		return
	}
	c.seen[s] = true
	c.items = append(c.items, s)
}

// matchAll records every match of every pattern, ordered by position.
func (c *collector) matchAll(text string, pats []pattern) {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, pt := range pats {
		for _, m := range pt.re.FindAllStringSubmatchIndex(text, -1) {
			name := string(pt.re.ExpandString(nil, pt.template, text, m))
			hits = append(hits, hit{pos: m[0], name: name})
		}
	}
	// insertion sort keeps equal positions in pattern order
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	for _, h := range hits {
		c.add(h.name)
	}
}

// ExtractSymbols returns the names defined in text, capped at MaxSymbols.
func ExtractSymbols(lang, text string) []string {
	pats, ok := symbolPatterns[lang]
	if !ok {
		return nil
	}
	c := newCollector(MaxSymbols)
	c.matchAll(text, pats)
	return c.items
}

// ExtractImports returns the module-like strings imported by text,
// capped at MaxImports.
func ExtractImports(lang, text string) []string {
	c := newCollector(MaxImports)
	switch lang {
	case LangPython:
		c.matchAll(text, importPatterns[LangPython])
		for _, m := range pyPlainImport.FindAllStringSubmatch(text, -1) {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(part)
				if len(fields) > 0 {
					c.add(fields[0])
				}
			}
		}
	case LangGo:
		c.matchAll(text, importPatterns[LangGo])
		for _, block := range goImportBlock.FindAllStringSubmatch(text, -1) {
			for _, q := range goQuoted.FindAllStringSubmatch(block[1], -1) {
				c.add(q[1])
			}
		}
	default:
		pats, ok := importPatterns[lang]
		if !ok {
			return nil
		}
		c.matchAll(text, pats)
	}
	return c.items
}
