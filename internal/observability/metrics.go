package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ForgeLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Settlement ---
	SettlementTransitions *prometheus.CounterVec
	OperatorChanges       *prometheus.CounterVec
	InstrumentsCreated    prometheus.Counter
	InstrumentsListed     prometheus.Gauge

	// --- Event Sink ---
	NotificationsDelivered *prometheus.CounterVec
	NotificationFailures   *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	IngestReceived *prometheus.CounterVec
	IngestInvalid  *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistOperationsWritten prometheus.Counter
	PersistJournalsWritten   prometheus.Counter
	PersistBatchSize         prometheus.Histogram
	PersistBatchDur          prometheus.Histogram
	PersistErrors            *prometheus.CounterVec
	PersistRetry             prometheus.Counter
	PersistLastSequence      prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command"}),

		CoreCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_core_commands_rejected_total",
			Help: "Commands rejected (dedup, authorization, validation, ledger, downstream)",
		}, []string{"command", "reason"}),

		CoreCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_core_sequence",
			Help: "Current global sequence number",
		}),

		// Settlement
		SettlementTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_settlement_transitions_total",
			Help: "Settlement transactions entering a status",
		}, []string{"status"}),

		OperatorChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_operator_changes_total",
			Help: "Operator role grants and revocations",
		}, []string{"action", "role"}),

		InstrumentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_instruments_created_total",
			Help: "Instruments created by factories",
		}),

		InstrumentsListed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_instruments_listed",
			Help: "Instruments currently listed in the registry",
		}),

		// Event Sink
		NotificationsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_sink_notifications_delivered_total",
			Help: "Notifications delivered to event sinks",
		}, []string{"sink", "kind"}),

		NotificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_sink_notification_failures_total",
			Help: "Notification deliveries that failed after commit",
		}, []string{"sink", "kind"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_channel_size",
			Help: "Current channel buffer occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_channel_utilization_ratio",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_projection_drops_total",
			Help: "Outputs dropped on full projection channel",
		}, []string{"channel"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Ingestion
		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_ingest_received_total",
			Help: "Commands received from transports",
		}, []string{"source", "command"}),

		IngestInvalid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_ingest_invalid_total",
			Help: "Commands that could not be parsed",
		}, []string{"source"}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_dedup_lru_size",
			Help: "Current entries in dedup LRU",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		// Persistence
		PersistOperationsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_persist_operations_written_total",
			Help: "Operations written to the log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "forge_persist_batch_size",
			Help:    "Outputs per persist batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "forge_persist_batch_duration_seconds",
			Help:    "Time to write one persist batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_persist_retries_total",
			Help: "Persist batch retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_persist_last_sequence",
			Help: "Last sequence committed to the log",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "forge_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		// Projection
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: latencyBuckets,
		}, []string{"projection"}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
