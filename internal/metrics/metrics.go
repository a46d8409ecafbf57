package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric of the server. It is kept separate from the
// prometheus default registry.
var Registry = prometheus.NewRegistry()

var (
	LLMRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_llm_requests_total",
			Help: "Requests sent to the text-completion and embedding services.",
		},
		[]string{"provider", "operation", "status"},
	)
	LLMDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bedtime_llm_request_duration_seconds",
			Help:    "Latency of text-completion and embedding requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
	LLMTokens = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bedtime_llm_tokens",
			Help:    "Tokens used per completion.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"provider"},
	)
	SegmentsGenerated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_segments_generated_total",
			Help: "Story segments committed, by generation mode.",
		},
		[]string{"mode"},
	)
	MalformedSegments = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "bedtime_segments_malformed_total",
			Help: "Non-final segments whose decision point could not be parsed.",
		},
	)
	SessionsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_sessions_started_total",
			Help: "Story sessions started, by kind (fresh, continuation, fallback).",
		},
		[]string{"kind"},
	)
	SessionsFinished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_sessions_finished_total",
			Help: "Story sessions that reached a terminal state.",
		},
		[]string{"outcome"},
	)
	ActiveSessions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "bedtime_sessions_active",
			Help: "Unfinished sessions currently held in memory.",
		},
	)
	StoreOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_store_operations_total",
			Help: "Story store operations, by operation and status.",
		},
		[]string{"operation", "status"},
	)
	AssetRenders = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedtime_asset_renders_total",
			Help: "Narration and illustration renders, by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Status converts an error into a metric label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
