package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsfeed_fetch_attempts_total",
		Help: "HTTP fetch attempts per outcome (ok, retryable, status, error)",
	}, []string{"outcome"})

	FetchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsfeed_fetch_fallbacks_total",
		Help: "Number of times a fetch advanced to the next candidate URL",
	})

	ItemsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsfeed_items_upserted_total",
		Help: "News items written per source and kind (inserted, updated)",
	}, []string{"source", "kind"})

	SourceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsfeed_source_runs_total",
		Help: "Per-source pipeline runs by result (ok, error)",
	}, []string{"source", "result"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsfeed_run_duration_seconds",
		Help:    "Duration of a full ingestion run",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms .. ~51s
	})

	FeedDialects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsfeed_feed_dialects_total",
		Help: "Parsed documents by detected dialect",
	}, []string{"dialect"})
)
