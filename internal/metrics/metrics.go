// Package metrics holds the prometheus collectors shared by the embedding
// client, the retriever and the orchestrator.
//
// Collectors are registered on a package-level Registry rather than the
// global default so tests and the CLI can expose exactly this set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repoqa"

// Registry holds every repoqa collector.
var Registry = prometheus.NewRegistry()

var (
	// EmbeddingCalls counts provider round trips by provider and outcome.
	EmbeddingCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "calls_total",
		Help:      "Embedding provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// EmbeddingRetries counts retried embedding batches.
	EmbeddingRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "retries_total",
		Help:      "Retried embedding batches by provider.",
	}, []string{"provider"})

	// EmbeddingCacheHits counts texts served from the embedding cache.
	EmbeddingCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "cache_hits_total",
		Help:      "Texts served from the embedding cache.",
	})

	// Searches counts retriever queries by effective mode.
	Searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "searches_total",
		Help:      "Retriever searches by mode (hybrid, bm25, vector).",
	}, []string{"mode"})

	// Degradations counts fallbacks to a simpler behavior by reason.
	Degradations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degradations_total",
		Help:      "Graceful degradations by reason.",
	}, []string{"reason"})

	// SearchLatency observes retriever search durations.
	SearchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "search_duration_seconds",
		Help:      "Retriever search latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"mode"})

	// Operations counts orchestrator operations by name and result.
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "operations_total",
		Help:      "Orchestrator operations by name and result.",
	}, []string{"op", "result"})
)

// Degradation reasons.
const (
	ReasonQueryEmbedding = "query_embedding"
	ReasonVectorBackend  = "vector_backend"
	ReasonRerank         = "rerank"
	ReasonEmbeddings     = "embeddings_not_configured"
	ReasonExternalStore  = "external_store_not_configured"
	ReasonAnswerModel    = "answer_model"
)

func init() {
	Registry.MustRegister(
		EmbeddingCalls,
		EmbeddingRetries,
		EmbeddingCacheHits,
		Searches,
		Degradations,
		SearchLatency,
		Operations,
	)
}

// ObserveSearch records one search of the given mode.
func ObserveSearch(mode string, started time.Time) {
	Searches.WithLabelValues(mode).Inc()
	SearchLatency.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// Degrade records a fallback.
func Degrade(reason string) {
	Degradations.WithLabelValues(reason).Inc()
}

// Handler serves Registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
