package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ItemsTotal zählt Items nach ihrem Ausgang (processed, skipped_unchanged, ...).
	ItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdl_items_total",
			Help: "Total number of ingest items by outcome.",
		},
		[]string{"source_id", "outcome"},
	)

	// DiscoveredTotal zählt entdeckte Items je Quelle.
	DiscoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdl_discovered_items_total",
			Help: "Total number of items returned by discovery.",
		},
		[]string{"source_id"},
	)

	// DiscoveryErrorsTotal zählt fehlgeschlagene Discovery-Aufrufe.
	DiscoveryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdl_discovery_errors_total",
			Help: "Total number of failed discovery calls.",
		},
		[]string{"source_id"},
	)

	RunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docdl_runs_total",
			Help: "Total number of finished ingestion runs.",
		},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docdl_run_duration_seconds",
			Help:    "Duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(ItemsTotal, DiscoveredTotal, DiscoveryErrorsTotal, RunsTotal, RunDuration)
}
