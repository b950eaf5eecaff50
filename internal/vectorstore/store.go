package vectorstore

import (
	"context"
	"math"
	"sort"
	"strconv"
)

// Metadata keys written for every chunk vector.
const (
	MetaPath  = "path"
	MetaStart = "start"
	MetaEnd   = "end"
	MetaLang  = "lang"

	// metaNamespace and metaID are reserved payload keys of the external
	// backends.
	metaNamespace = "namespace"
	metaID        = "chunk_id"
)

// Item is one vector to index.
type Item struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is one query hit. Higher Score is better.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is a namespaced vector index.
type Store interface {
	Upsert(ctx context.Context, namespace string, items []Item) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	QueryFiltered(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error)
	Kind() string
	Close() error
}

// Filter restricts a query to items whose metadata holds every key with
// exactly the given value. Reserved payload keys are ignored.
type Filter map[string]string

// Matches reports whether meta satisfies f. An empty filter matches all.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f {
		if reservedKey(k) {
			continue
		}
		if got, ok := meta[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func reservedKey(k string) bool { return k == metaNamespace || k == metaID }

// ChunkMetadata builds the standard metadata for a chunk vector.
func ChunkMetadata(path string, start, end int, lang string) map[string]string {
	return map[string]string{
		MetaPath:  path,
		MetaStart: strconv.Itoa(start),
		MetaEnd:   strconv.Itoa(end),
		MetaLang:  lang,
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceToSimilarity maps a non-negative distance into (0, 1].
func DistanceToSimilarity(d float64) float64 {
	return 1 / (1 + d)
}

func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].ID < ms[j].ID
	})
}

func limit(ms []Match, topK int) []Match {
	if topK > 0 && len(ms) > topK {
		return ms[:topK]
	}
	return ms
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
