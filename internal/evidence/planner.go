package evidence

import (
	"strings"
	"unicode"
)

// ProbeType is the kind of lookup a probe performs.
type ProbeType string

const (
	ProbeCodeSearch   ProbeType = "code_search"
	ProbeSymbolLookup ProbeType = "symbol_lookup"
	ProbeFileList     ProbeType = "file_list"
)

// MaxProbes caps the probes planned for one question.
const MaxProbes = 5

const maxFrameworkProbes = 2

// Probe is one sub-query used to collect evidence.
type Probe struct {
	Type          ProbeType `json:"type"`
	Query         string    `json:"query"`
	ExpectedFiles int       `json:"expected_files"`
}

type family struct {
	name     string
	keywords []string
	probes   []Probe
}

// families are checked in order; the first matching family wins.
var families = []family{
	{"auth", []string{"authentication", "auth", "login", "security", "jwt", "oauth"}, []Probe{
		{ProbeCodeSearch, "authentication login auth", 10},
		{ProbeSymbolLookup, "authenticate verify_token check_auth", 5},
		{ProbeFileList, "**/auth/**", 5},
		{ProbeCodeSearch, "jwt oauth bearer token", 5},
	}},
	{"database", []string{"database", "db", "sql", "mongo", "redis", "postgres"}, []Probe{
		{ProbeFileList, "**/models/** **/migrations/**", 10},
		{ProbeCodeSearch, "database connection pool query", 8},
		{ProbeSymbolLookup, "Model Schema Table Entity", 5},
		{ProbeCodeSearch, "CREATE TABLE INSERT SELECT UPDATE", 5},
	}},
	{"api", []string{"api", "endpoint", "route", "rest", "graphql"}, []Probe{
		{ProbeFileList, "**/routes/** **/controllers/** **/api/**", 10},
		{ProbeCodeSearch, "app.get app.post router.route @app.route", 8},
		{ProbeSymbolLookup, "Router Controller Handler Resource", 5},
		{ProbeCodeSearch, "request response middleware", 5},
	}},
	{"testing", []string{"test", "testing", "unit", "integration", "e2e"}, []Probe{
		{ProbeFileList, "**/test/** **/tests/** **/*test* **/*spec*", 15},
		{ProbeCodeSearch, "describe it test expect assert", 10},
		{ProbeSymbolLookup, "TestCase test_ Test Suite", 5},
	}},
	{"frontend", []string{"frontend", "ui", "react", "vue", "angular", "component"}, []Probe{
		{ProbeFileList, "**/components/** **/pages/** **/views/**", 10},
		{ProbeCodeSearch, "useState useEffect render Component", 8},
		{ProbeSymbolLookup, "Component Page View Layout", 5},
		{ProbeFileList, "**/*.jsx **/*.tsx **/*.vue", 10},
	}},
	{"config", []string{"config", "configuration", "settings", "environment", "env"}, []Probe{
		{ProbeFileList, "**/config/** **/*.config.* **/.env* **/settings.*", 8},
		{ProbeCodeSearch, "process.env config.get settings environment", 5},
		{ProbeSymbolLookup, "Config Settings Environment", 3},
	}},
	{"deployment", []string{"deploy", "deployment", "docker", "kubernetes", "ci", "cd"}, []Probe{
		{ProbeFileList, "**/deploy/** **/Dockerfile* **/*.yaml **/*.yml .github/workflows/**", 8},
		{ProbeCodeSearch, "docker build deploy kubernetes helm", 5},
		{ProbeFileList, "**/docker-compose* k8s/** infra/**", 5},
	}},
}

var stopwords = map[string]bool{
	"the": true, "how": true, "what": true, "does": true, "where": true, "when": true, "why": true,
	"this": true, "that": true, "with": true, "for": true, "and": true, "are": true, "which": true,
	"work": true, "works": true, "there": true, "from": true, "into": true, "about": true,
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// matches reports whether any query word hits one of the keywords. Short
// keywords must match a word exactly; longer ones also match as a prefix
// ("auth" matches "authentication").
func (f family) matches(qwords []string) bool {
	for _, w := range qwords {
		for _, k := range f.keywords {
			if w == k || len(k) >= 4 && strings.HasPrefix(w, k) {
				return true
			}
		}
	}
	return false
}

// Plan turns a question into 1..MaxProbes probes. A keyword family yields
// its preset bundle; otherwise up to three content terms drive generic
// probes. Up to two framework probes from facts are appended before
// deduplication by (type, query).
func Plan(query string, facts *RepoFacts) []Probe {
	qwords := words(strings.ToLower(query))

	var probes []Probe
	for _, f := range families {
		if f.matches(qwords) {
			probes = append(probes, f.probes...)
			break
		}
	}

	if len(probes) == 0 {
		var terms []string
		for _, w := range words(query) {
			if len(w) > 2 && !stopwords[strings.ToLower(w)] {
				terms = append(terms, w)
			}
		}
		if len(terms) > 0 {
			terms = terms[:min(len(terms), 3)]
			caps := make([]string, len(terms))
			for i, t := range terms {
				r := []rune(strings.ToLower(t))
				r[0] = unicode.ToUpper(r[0])
				caps[i] = string(r)
			}
			probes = append(probes,
				Probe{ProbeCodeSearch, strings.Join(terms, " "), 10},
				Probe{ProbeSymbolLookup, strings.Join(caps, " "), 5},
				Probe{ProbeFileList, "**/*" + strings.ToLower(terms[0]) + "*", 5},
			)
		} else {
			probes = append(probes,
				Probe{ProbeCodeSearch, strings.TrimSpace(query), 10},
				Probe{ProbeFileList, "**/src/** **/lib/**", 10},
			)
		}
	}

	if facts != nil {
		for _, fw := range facts.Frameworks[:min(len(facts.Frameworks), maxFrameworkProbes)] {
			probes = append(probes, Probe{ProbeCodeSearch, strings.ToLower(fw), 5})
		}
	}

	type key struct {
		t ProbeType
		q string
	}
	seen := map[key]bool{}
	out := make([]Probe, 0, len(probes))
	for _, p := range probes {
		k := key{p.Type, p.Query}
		if p.Query == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	if len(out) > MaxProbes {
		out = out[:MaxProbes]
	}
	return out
}
