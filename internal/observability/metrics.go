package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	// --- Core Operations ---
	CoreOpsApplied    *prometheus.CounterVec
	CoreOpsRejected   *prometheus.CounterVec
	CoreOpDuration    *prometheus.HistogramVec
	CoreJournals      *prometheus.CounterVec
	CoreSequence      prometheus.Gauge
	CoreCompensations *prometheus.CounterVec

	// --- Vault State ---
	TotalLocked     prometheus.Gauge
	ActivePositions prometheus.Gauge
	NextCurveIndex  prometheus.Gauge
	DustPool        prometheus.Gauge
	TotalAccrued    prometheus.Gauge
	DepositsPaused  prometheus.Gauge

	// --- Yield ---
	YieldDistributed prometheus.Counter
	YieldClaimed     prometheus.Counter
	YieldDust        prometheus.Counter
	DistributeSize   prometheus.Histogram

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates  *prometheus.CounterVec
	IdempotencyTier2Errors prometheus.Counter
	DedupLRUSize           prometheus.Gauge

	// --- Ingestion ---
	IngestCommands    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec
	IngestToApply     *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Harvest & Lease ---
	HarvestRuns   *prometheus.CounterVec
	LeaseHeld     prometheus.Gauge
	LeaseRenewals *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers metrics on reg. Tests pass a fresh registry so
// repeated construction does not panic on duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Operations
		CoreOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_ops_applied_total",
			Help: "Operations committed by the vault core",
		}, []string{"op"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_ops_rejected_total",
			Help: "Operations rejected, by error kind",
		}, []string{"op", "kind"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_core_op_duration_seconds",
			Help:    "Time to run a single operation in core, collaborator calls included",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Next global sequence number",
		}),

		CoreCompensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_compensations_total",
			Help: "Operations rolled back after a collaborator failure",
		}, []string{"op"}),

		// Vault State
		TotalLocked: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_locked",
			Help: "Sum of active position deposit values (value scale)",
		}),

		ActivePositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_active_positions",
			Help: "Number of active positions",
		}),

		NextCurveIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_next_curve_index",
			Help: "Next unsold bonding-curve slot",
		}),

		DustPool: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dust_pool",
			Help: "Un-attributed rounding residual (value scale)",
		}),

		TotalAccrued: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_accrued_yield",
			Help: "Unclaimed yield across active positions (value scale)",
		}),

		DepositsPaused: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_deposits_paused",
			Help: "1 when deposits are paused",
		}),

		// Yield
		YieldDistributed: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_yield_distributed_total",
			Help: "Yield credited to positions (value scale)",
		}),

		YieldClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_yield_claimed_total",
			Help: "Yield paid out through claims and withdrawals (value scale)",
		}),

		YieldDust: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_yield_dust_total",
			Help: "Rounding residual collected into the dust pool (value scale)",
		}),

		DistributeSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_distribute_positions",
			Help:    "Active positions walked per distribution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicate operations caught (lru/postgres)",
		}, []string{"op", "tier"}),

		IdempotencyTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_idempotency_tier2_errors_total",
			Help: "Event log dedup lookups that failed and fell back to the LRU alone",
		}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Operation ids held in the dedup LRU",
		}),

		// Ingestion
		IngestCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_commands_total",
			Help: "Commands received over NATS",
		}, []string{"subject"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_parse_errors_total",
			Help: "Commands dropped as unparseable",
		}, []string{"subject"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_ingest_to_apply_seconds",
			Help:    "NATS receive to core commit",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors by type",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		// Projection
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots saved",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Snapshot creation duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		// Harvest & Lease
		HarvestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_harvest_runs_total",
			Help: "Scheduled harvest runs by outcome",
		}, []string{"outcome"}),

		LeaseHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_lease_held",
			Help: "1 while this instance holds the writer lease",
		}),

		LeaseRenewals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_lease_renewals_total",
			Help: "Writer lease renewals by outcome",
		}, []string{"outcome"}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Read API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Read API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"endpoint"}),
	}
}
