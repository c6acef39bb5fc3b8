// Package metrics holds the Prometheus collectors shared by all components.
//
// Collectors are registered on the default registry at init so the serve
// command can expose them with Handler. Components update them directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "debtsync"

var (
	RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_calls_total",
		Help:      "RPC calls by task name and outcome (ok, timeout, protocol, canceled).",
	}, []string{"task", "outcome"})

	RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_call_duration_seconds",
		Help:      "Time from publish to resolution of an RPC call.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
	}, []string{"task"})

	RPCPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rpc_pending_calls",
		Help:      "Calls waiting for a correlated reply.",
	})

	RPCOrphanedReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_orphaned_replies_total",
		Help:      "Replies that matched no pending call (late or unknown correlation id).",
	})

	LoaderBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loader_batches_total",
		Help:      "Multi-row INSERT batches committed.",
	})

	LoaderRowsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loader_rows_inserted_total",
		Help:      "Aggregated debtor rows inserted.",
	})

	LoaderUnknownCodes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loader_unknown_revenue_codes_total",
		Help:      "Raw records dropped because their revenue code maps to no bucket.",
	}, []string{"revenue_code"})

	LoaderBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "loader_batch_insert_duration_seconds",
		Help:      "Time taken to insert one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Sync pipeline runs by community and outcome (ok, or the failing step).",
	}, []string{"community", "outcome"})

	SyncStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_step_duration_seconds",
		Help:      "Duration of each pipeline step.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16),
	}, []string{"step"})

	NotifyDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_deliveries_total",
		Help:      "Subscriber notification attempts by result (delivered, failed).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		RPCCalls,
		RPCDuration,
		RPCPending,
		RPCOrphanedReplies,
		LoaderBatches,
		LoaderRowsInserted,
		LoaderUnknownCodes,
		LoaderBatchDuration,
		SyncRuns,
		SyncStepDuration,
		NotifyDeliveries,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
