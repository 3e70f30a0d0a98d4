package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fight engine.
type Metrics struct {
	// --- Tick loop ---
	TicksTotal      prometheus.Counter
	TickDuration    prometheus.Histogram
	FightsLive      prometheus.Gauge
	FightsStarted   prometheus.Counter
	FightTickErrors *prometheus.CounterVec
	FightComputeDur prometheus.Histogram

	// --- Settlement ---
	SettleAttempts   prometheus.Counter
	SettleCommitted  *prometheus.CounterVec
	SettleAborts     *prometheus.CounterVec
	SettleDuration   prometheus.Histogram
	LockContention   prometheus.Counter
	AdjudicateDur    prometheus.Histogram
	AdjudicateFailed prometheus.Counter

	// --- Violations ---
	ViolationsFlagged prometheus.Counter
	ViolationChecks   prometheus.Counter

	// --- Snapshots ---
	SnapshotsWritten prometheus.Counter
	SnapshotsDropped prometheus.Counter
	SnapshotErrors   prometheus.Counter
	SnapshotsPruned  prometheus.Counter

	// --- Broadcast ---
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- Price feed ---
	PriceFetches  *prometheus.CounterVec
	PriceFetchDur prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	tickBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}
	rpcBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}

	return &Metrics{
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_ticks_total",
			Help: "Tick cycles executed",
		}),

		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fight_tick_duration_seconds",
			Help:    "Wall time of one full tick cycle",
			Buckets: tickBuckets,
		}),

		FightsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fight_live_count",
			Help: "LIVE fights seen in the last tick",
		}),

		FightsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_started_total",
			Help: "Fights promoted WAITING to LIVE",
		}),

		FightTickErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_tick_errors_total",
			Help: "Per-fight tick failures (isolated, retried next tick)",
		}, []string{"stage"}),

		FightComputeDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fight_compute_duration_seconds",
			Help:    "Time to recompute both participants of one fight",
			Buckets: tickBuckets,
		}),

		SettleAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_settle_attempts_total",
			Help: "Settlement attempts entered",
		}),

		SettleCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_settle_committed_total",
			Help: "Settlements committed by terminal status",
		}, []string{"status"}),

		SettleAborts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_settle_aborts_total",
			Help: "Settlement aborts by guard",
		}, []string{"reason"}),

		SettleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fight_settle_duration_seconds",
			Help:    "End-to-end settlement attempt duration",
			Buckets: rpcBuckets,
		}),

		LockContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_settle_lock_contention_total",
			Help: "Lock acquisitions lost to another instance",
		}),

		AdjudicateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fight_adjudicate_duration_seconds",
			Help:    "Adjudication RPC latency",
			Buckets: rpcBuckets,
		}),

		AdjudicateFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_adjudicate_failures_total",
			Help: "Adjudication failures resolved as NO_CONTEST",
		}),

		ViolationsFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_violations_flagged_total",
			Help: "Participants flagged for out-of-venue trading",
		}),

		ViolationChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_violation_checks_total",
			Help: "Violation detector passes",
		}),

		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_snapshots_written_total",
			Help: "Snapshot rows persisted",
		}),

		SnapshotsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_snapshots_dropped_total",
			Help: "Snapshot rows dropped on full channel",
		}),

		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_snapshot_errors_total",
			Help: "Snapshot write failures (logged, never propagated)",
		}),

		SnapshotsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fight_snapshots_pruned_total",
			Help: "Snapshot rows removed by retention sweep",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_events_published_total",
			Help: "Events published to the broadcast gateway",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_publish_errors_total",
			Help: "Broadcast publish failures (non-fatal)",
		}, []string{"event_type"}),

		PriceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fight_price_fetches_total",
			Help: "Price feed fetches by outcome",
		}, []string{"outcome"}),

		PriceFetchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fight_price_fetch_duration_seconds",
			Help:    "Price feed fetch latency",
			Buckets: rpcBuckets,
		}),
	}
}
