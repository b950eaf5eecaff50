package retriever

import (
	"sort"

	"github.com/dshills/repoqa/internal/vectorstore"
)

// NeighborWeight scales a parent's score onto its expanded neighbors.
const NeighborWeight = 0.5

// neighborIDs returns the chunks related to c: its recorded neighbors,
// then the first chunk of every file c's file imports or is imported by.
func (r *Retriever) neighborIDs(id string) []string {
	c, ok := r.chunk(id)
	if !ok {
		return nil
	}
	out := append([]string(nil), c.Neighbors...)
	related := append(append([]string(nil), r.graph.Imports(c.Path)...), r.graph.Importers(c.Path)...)
	for _, p := range related {
		if idxs := r.byPath[p]; len(idxs) > 0 {
			out = append(out, r.chunks[idxs[0]].ID)
		}
	}
	return out
}

// expandNeighbors appends, for each of the top limit/2 results, up to
// limit/2 related chunks scored at NeighborWeight times the parent score.
// Ids already present and chunks outside filter are skipped. The merged
// list is re-sorted and cut to limit.
func (r *Retriever) expandNeighbors(ranked []Ranked, limit int, filter vectorstore.Filter) []Ranked {
	if len(ranked) == 0 {
		return ranked
	}
	half := max(limit/2, 1)
	seen := make(map[string]bool, len(ranked))
	for _, rk := range ranked {
		seen[rk.ID] = true
	}
	out := append([]Ranked(nil), ranked...)
	for _, parent := range ranked[:min(half, len(ranked))] {
		added := 0
		for _, nid := range r.neighborIDs(parent.ID) {
			if added >= half {
				break
			}
			if seen[nid] {
				continue
			}
			idx, ok := r.byID[nid]
			if !ok || !r.allowed(idx, filter) {
				continue
			}
			seen[nid] = true
			out = append(out, Ranked{ID: nid, Score: parent.Score * NeighborWeight})
			added++
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
