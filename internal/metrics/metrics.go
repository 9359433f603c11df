package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing metrics
	RouterResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_router_resolutions_total",
			Help: "Topic profile resolutions by source",
		},
		[]string{"source", "profile"},
	)

	// Retrieval metrics
	TierQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_search_tier_queries_total",
			Help: "Search queries issued per retrieval tier",
		},
		[]string{"tier", "status"},
	)

	FallbackTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_fallback_triggered_total",
			Help: "Requests that escalated past the primary tier, by reason",
		},
		[]string{"reason"},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotnote_search_results",
			Help:    "Number of results returned by a single search call",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	ExtractOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_extract_outcomes_total",
			Help: "Full-content extraction attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Generation metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotnote_stage_duration_seconds",
			Help:    "Generation stage duration in seconds including retries",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_stage_failures_total",
			Help: "Generation stage failures by kind",
		},
		[]string{"stage", "kind"},
	)

	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_generation_requests_total",
			Help: "Generation requests by final status",
		},
		[]string{"status"},
	)

	// Memory metrics
	MemoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotnote_memory_lookups_total",
			Help: "Topic memory lookups by result",
		},
		[]string{"result"},
	)

	MemoryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotnote_memory_pruned_total",
			Help: "Expired topic memory entries removed",
		},
	)
)
