package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the engine and the market-data consumer. Registered
// on the default registry and served by the /metrics endpoint.
var (
	TransactionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_transactions_recorded_total",
		Help: "Ledger transactions committed, by transaction type.",
	}, []string{"type"})

	MutationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_mutation_failures_total",
		Help: "Failed club mutations, by failure kind.",
	}, []string{"kind"})

	MutationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "treasury_mutation_duration_seconds",
		Help:    "Latency of committed club mutations.",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_unit_value_snapshots_total",
		Help: "Unit value snapshots appended.",
	})

	PriceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_price_updates_total",
		Help: "Asset price updates applied from the market-data feed.",
	})
)
