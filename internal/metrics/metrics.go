// Package metrics exposes Prometheus collectors for the harvest service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	frontierEntries       *prometheus.GaugeVec
	frontierEnqueuesTotal *prometheus.CounterVec
	frontierDequeuesTotal *prometheus.CounterVec
	completionsTotal      *prometheus.CounterVec
	pagesFetchedTotal     *prometheus.CounterVec
	chunksEmittedTotal    prometheus.Counter
	chunkTokens           prometheus.Histogram
	politenessWaitSeconds prometheus.Histogram
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		frontierEntries = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ragharvest_frontier_entries",
				Help: "Frontier entries by state.",
			},
			[]string{"state"},
		)

		frontierEnqueuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragharvest_frontier_enqueues_total",
				Help: "Enqueue requests by result.",
			},
			[]string{"result"},
		)

		frontierDequeuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragharvest_frontier_dequeues_total",
				Help: "Successful dequeues by domain.",
			},
			[]string{"domain"},
		)

		completionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragharvest_completions_total",
				Help: "Entry completions by outcome.",
			},
			[]string{"outcome"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragharvest_pages_fetched_total",
				Help: "Fetched pages by HTTP status class.",
			},
			[]string{"status_class"},
		)

		chunksEmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ragharvest_chunks_emitted_total",
				Help: "Total chunks emitted across all documents.",
			},
		)

		chunkTokens = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragharvest_chunk_tokens",
				Help:    "Token counts of emitted chunks.",
				Buckets: []float64{100, 250, 500, 750, 1000, 1500, 2500},
			},
		)

		politenessWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragharvest_politeness_wait_seconds",
				Help:    "Time workers spent sleeping for politeness or backoff windows.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ragharvest_active_workers",
				Help: "Workers currently processing an entry.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetFrontierCounts refreshes the per-state gauges.
func SetFrontierCounts(pending, inProgress, deferred, done, failed int) {
	if frontierEntries == nil {
		return
	}
	frontierEntries.WithLabelValues("pending").Set(float64(pending))
	frontierEntries.WithLabelValues("in_progress").Set(float64(inProgress))
	frontierEntries.WithLabelValues("deferred").Set(float64(deferred))
	frontierEntries.WithLabelValues("done").Set(float64(done))
	frontierEntries.WithLabelValues("failed").Set(float64(failed))
}

// ObserveEnqueue counts one enqueue request.
func ObserveEnqueue(result string) {
	if frontierEnqueuesTotal == nil {
		return
	}
	frontierEnqueuesTotal.WithLabelValues(result).Inc()
}

// ObserveDequeue counts one successful claim.
func ObserveDequeue(domain string) {
	if frontierDequeuesTotal == nil {
		return
	}
	frontierDequeuesTotal.WithLabelValues(domain).Inc()
}

// ObserveCompletion counts one completion by outcome.
func ObserveCompletion(outcome string) {
	if completionsTotal == nil {
		return
	}
	completionsTotal.WithLabelValues(outcome).Inc()
}

// ObservePageFetched counts one fetched page by status class (2xx, 3xx, ...).
func ObservePageFetched(statusCode int) {
	if pagesFetchedTotal == nil {
		return
	}
	class := "unknown"
	if statusCode >= 100 && statusCode < 600 {
		class = string(rune('0'+statusCode/100)) + "xx"
	}
	pagesFetchedTotal.WithLabelValues(class).Inc()
}

// ObserveChunks records an emitted chunk batch.
func ObserveChunks(tokenCounts []int) {
	if chunksEmittedTotal == nil {
		return
	}
	for _, tc := range tokenCounts {
		chunksEmittedTotal.Inc()
		chunkTokens.Observe(float64(tc))
	}
}

// ObservePolitenessWait records a worker sleep waiting for eligibility.
func ObservePolitenessWait(d time.Duration) {
	if politenessWaitSeconds == nil {
		return
	}
	politenessWaitSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active worker gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active worker gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
