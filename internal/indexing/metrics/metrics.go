package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed tracks handled jobs per type and outcome (completed, retried, failed)
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"type", "outcome"},
	)

	// JobDuration tracks handler latency
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// IntegrityResults tracks integrity check outcomes
	IntegrityResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_integrity_checks_total",
			Help: "Total number of integrity checks by outcome",
		},
		[]string{"outcome"},
	)

	// GapsEnqueued tracks missing ranges handed to the sync pipeline
	GapsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explorer_gaps_enqueued_total",
			Help: "Total number of block gaps enqueued for resync",
		},
	)

	// TransfersCreated tracks backfilled native transfers
	TransfersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_native_transfers_created_total",
			Help: "Total number of native transfers created by backfill",
		},
		[]string{"kind"},
	)

	// BlocksReverted tracks stalled block resolutions
	BlocksReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_partial_blocks_total",
			Help: "Stalled partial blocks by resolution",
		},
		[]string{"resolution"},
	)

	// ProcessActions tracks sync process manager decisions
	ProcessActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_sync_process_actions_total",
			Help: "Sync process actions taken per rule",
		},
		[]string{"rule"},
	)

	// BillingUsageReported tracks transactions reported to the billing provider
	BillingUsageReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explorer_billing_usage_reported_total",
			Help: "Total number of transactions reported as metered usage",
		},
	)

	// LifecycleDeletions tracks explorers removed by lifecycle sweeps
	LifecycleDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_lifecycle_deletions_total",
			Help: "Explorers removed by lifecycle sweeps",
		},
		[]string{"reason"},
	)

	// RetentionPruned tracks blocks deleted by the retention pruner
	RetentionPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explorer_retention_pruned_blocks_total",
			Help: "Blocks deleted by the data retention pruner",
		},
	)

	// RPCCallsTotal tracks RPC calls per method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks RPC errors per method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DBConnectionPoolUsage tracks open connections in the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "explorer_db_connection_pool_usage",
			Help: "Number of open database connections",
		},
	)

	// DBBatchSize tracks rows written per batch insert
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_db_batch_size",
			Help:    "Rows per batch insert",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"operation"},
	)
)
