package evidence

import (
	"strings"

	"github.com/dshills/repoqa/pkg/types"
)

// NonBlankLines counts the lines of s that are not whitespace-only.
func NonBlankLines(s string) int {
	n := 0
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

// CompressDocPack bounds a ranked doc-pack to budget non-blank excerpt
// lines by dropping the lowest-ranked items. When the top item alone is
// over budget its excerpt is cut.
func CompressDocPack(items []types.DocItem, budget int) []types.DocItem {
	total := 0
	for _, it := range items {
		total += NonBlankLines(it.Excerpt)
	}
	for total > budget && len(items) > 1 {
		total -= NonBlankLines(items[len(items)-1].Excerpt)
		items = items[:len(items)-1]
	}
	if total > budget && len(items) == 1 {
		first := items[0]
		first.Excerpt = cutLines(first.Excerpt, budget)
		items = []types.DocItem{first}
	}
	return items
}

// cutLines keeps text up to and including its budget-th non-blank line.
func cutLines(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	n := 0
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n++
		if n == budget {
			return strings.Join(lines[:i+1], "\n")
		}
	}
	return text
}
