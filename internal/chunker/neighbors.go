package chunker

import "github.com/dshills/repoqa/pkg/types"

// AssignNeighbors sets Neighbors on every chunk: the previous and next
// chunk of the same file, then the first chunk of each file the chunk's
// file imports according to cm. Chunks must be grouped by file in line
// order, as produced by ChunkFile.
func AssignNeighbors(chunks []types.Chunk, cm *types.CodeMap) {
	byPath := make(map[string][]int)
	for i := range chunks {
		byPath[chunks[i].Path] = append(byPath[chunks[i].Path], i)
	}
	graph := cm.Graph()

	for p, idxs := range byPath {
		var imported []string
		for _, dst := range graph.Imports(p) {
			if first, ok := byPath[dst]; ok {
				imported = append(imported, chunks[first[0]].ID)
			}
		}
		for k, i := range idxs {
			seen := map[string]bool{chunks[i].ID: true}
			var nbrs []string
			add := func(id string) {
				if !seen[id] {
					seen[id] = true
					nbrs = append(nbrs, id)
				}
			}
			if k > 0 {
				add(chunks[idxs[k-1]].ID)
			}
			if k+1 < len(idxs) {
				add(chunks[idxs[k+1]].ID)
			}
			for _, id := range imported {
				add(id)
			}
			chunks[i].Neighbors = nbrs
		}
	}
}
