package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation counters and histograms, partitioned by cursor name.

var (
	// Poller
	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Subsystem: "pass",
		Name:      "total",
		Help:      "Reconciliation passes by result",
	}, []string{"cursor", "result"})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "poller",
		Subsystem: "pass",
		Name:      "duration_seconds",
		Help:      "Reconciliation pass duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"cursor"})

	CursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poller",
		Subsystem: "cursor",
		Name:      "last_processed_block",
		Help:      "Last block height committed by the cursor",
	}, []string{"cursor"})

	ChainTip = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poller",
		Subsystem: "cursor",
		Name:      "chain_tip_block",
		Help:      "Latest block height reported by the node",
	}, []string{"cursor"})

	// Fetcher
	FetchPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Subsystem: "fetcher",
		Name:      "pages_total",
		Help:      "getEvents pages requested",
	}, []string{"cursor"})

	FetchedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Subsystem: "fetcher",
		Name:      "events_total",
		Help:      "Raw events returned by the node",
	}, []string{"cursor"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Subsystem: "fetcher",
		Name:      "errors_total",
		Help:      "Range fetches that failed after retry exhaustion",
	}, []string{"cursor"})

	// Applier
	AppliedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Subsystem: "applier",
		Name:      "events_total",
		Help:      "Events processed by kind and outcome",
	}, []string{"kind", "outcome"})

	DeferredCompletions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "poller",
		Subsystem: "applier",
		Name:      "deferred_completions",
		Help:      "PaymentCompleted events waiting for their payment row",
	})
)
