package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const PushJob = "bounty_allocator"

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bounty_allocator_build_info",
			Help: "Build information of the bounty allocator",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_allocator_runs_total",
			Help: "Total number of allocation runs",
		},
		[]string{"status"},
	)

	ComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bounty_allocator_compute_duration_seconds",
			Help:    "Duration of allocation computation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)

	RowsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bounty_allocator_rows_ingested_total",
			Help: "Total number of submission rows ingested",
		},
	)

	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_allocator_warnings_total",
			Help: "Total number of data-quality warnings",
		},
		[]string{"kind"},
	)

	Members = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bounty_allocator_members",
			Help: "Number of bounty members in the last run",
		},
	)

	TokensAllocated = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bounty_allocator_tokens_allocated",
			Help: "Tokens allocated per campaign in the last run",
		},
		[]string{"campaign"},
	)

	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_allocator_sink_writes_total",
			Help: "Total number of export sink writes",
		},
		[]string{"sink", "status"},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_allocator_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	DatabaseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bounty_allocator_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)
)

// Push sends the default registry to a Prometheus Pushgateway. Batch runs exit
// before a scrape could happen, so this is how their metrics are kept.
func Push(ctx context.Context, url string) error {
	err := push.New(url, PushJob).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
