package retriever

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/repoqa/pkg/types"
)

// Okapi BM25 parameters.
const (
	BM25K1 = 1.5
	BM25B  = 0.75
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize lowercases s and splits it into word tokens.
func Tokenize(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// DocumentText is the text a chunk is indexed under: its body, symbols and
// path.
func DocumentText(c types.Chunk) string {
	return c.Text + " " + strings.Join(c.Symbols, " ") + " " + c.Path
}

// bm25Index is an Okapi BM25 index over documents addressed by position.
type bm25Index struct {
	termFreqs []map[string]int
	docLens   []int
	avgLen    float64
	docFreq   map[string]int
}

func newBM25(docs [][]string) *bm25Index {
	idx := &bm25Index{
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}
	total := 0
	for i, toks := range docs {
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(toks)
		total += len(toks)
		for t := range tf {
			idx.docFreq[t]++
		}
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// idf is the non-negative BM25 idf, so terms present in most of a tiny
// corpus still contribute.
func (b *bm25Index) idf(term string) float64 {
	n := float64(b.docFreq[term])
	N := float64(len(b.docLens))
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

func (b *bm25Index) scores(query []string) []float64 {
	out := make([]float64, len(b.docLens))
	if b.avgLen == 0 {
		return out
	}
	seen := make(map[string]bool, len(query))
	for _, term := range query {
		if seen[term] || b.docFreq[term] == 0 {
			continue
		}
		seen[term] = true
		idf := b.idf(term)
		for i, tf := range b.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - BM25B + BM25B*float64(b.docLens[i])/b.avgLen
			out[i] += idf * f * (BM25K1 + 1) / (f + BM25K1*norm)
		}
	}
	return out
}

type scored struct {
	idx   int
	score float64
}

// top returns up to n positive-scoring documents, best first. Ties keep
// corpus order.
func (b *bm25Index) top(query []string, n int) []scored {
	var out []scored
	for i, s := range b.scores(query) {
		if s > 0 {
			out = append(out, scored{i, s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
