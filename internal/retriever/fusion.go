package retriever

import (
	"path"
	"sort"
	"strings"
)

// RRFConstant is K in the reciprocal rank fusion term 1/(rank+K).
const RRFConstant = 60

// FuseRRF merges ranked id lists. Each id scores the sum over lists of
// 1/(rank+K) with 1-based rank. The result is sorted by score, ties
// broken by first appearance.
func FuseRRF(lists ...[]string) []Ranked {
	scores := make(map[string]float64)
	var order []string
	for _, list := range lists {
		for rank, id := range list {
			if _, ok := scores[id]; !ok {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(rank+1+RRFConstant)
		}
	}
	out := make([]Ranked, len(order))
	for i, id := range order {
		out[i] = Ranked{ID: id, Score: scores[id]}
	}
	sortRanked(out)
	return out
}

// Ranked is an id with a score.
type Ranked struct {
	ID    string
	Score float64
}

func sortRanked(rs []Ranked) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Score > rs[j].Score })
}

// NameBonus is the small boost given to conventionally important files.
func NameBonus(p string) float64 {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	bonus := 0.0
	if strings.Contains(lower, "readme") {
		bonus += 0.08
	}
	if base == "package.json" || base == "manifest.json" {
		bonus += 0.05
	}
	for _, prefix := range []string{"app.", "main.", "index."} {
		if strings.HasPrefix(base, prefix) {
			bonus += 0.04
			break
		}
	}
	return bonus
}
