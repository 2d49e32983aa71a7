package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingest and retrieval Prometheus metrics.
var (
	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Total ingest runs by outcome",
		},
		[]string{"mode", "status"}, // mode: rebuild / append
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Total chunks written to the vector store",
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingest run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	RetrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Candidates surviving the relevance floor per question",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	InsufficientContextTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_context_total",
			Help:      "Questions answered without calling the LLM because nothing relevant was retrieved",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingest and retrieval metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestRunsTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(RetrievalCandidates)
	prometheus.MustRegister(InsufficientContextTotal)
	pipelineMetricsRegistered = true
}
