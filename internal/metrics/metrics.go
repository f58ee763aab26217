// Package metrics declares the prometheus collectors DD exposes, in the
// style of weed/stats/metrics.go: a package-level registry plus named
// Counter/Gauge/Histogram vars registered once at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "datadistribution"

var (
	Gather = prometheus.NewRegistry()

	ShardCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "dd",
		Name:      "shard_count",
		Help:      "number of shards in the current InitialDataDistribution snapshot",
	})

	InFlightMoves = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "dd",
		Name:      "in_flight_moves",
		Help:      "number of valid, uncancelled data moves tracked by the orchestrator",
	})

	RestartCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "dd",
		Name:      "restart_total",
		Help:      "count of DD inner-loop restarts, by classified error kind",
	}, []string{"reason"})

	WigglerRoundDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "wiggler",
		Name:      "smoothed_round_duration_seconds",
		Help:      "EWMA-smoothed storage wiggler round duration",
	}, []string{"dc_scope"})

	WigglerWiggleDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "wiggler",
		Name:      "smoothed_wiggle_duration_seconds",
		Help:      "EWMA-smoothed storage wiggler per-server wiggle duration",
	}, []string{"dc_scope"})

	SnapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "snapshot",
		Name:      "create_duration_seconds",
		Help:      "duration of successful ddSnapCreate runs",
		Buckets:   prometheus.DefBuckets,
	})

	SnapshotFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "snapshot",
		Name:      "create_failures_total",
		Help:      "count of ddSnapCreate failures, by error kind",
	}, []string{"kind"})

	MoveKeysLockLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "movekeys",
		Name:      "lock_lost_total",
		Help:      "count of movekeys_conflict errors observed by the lock poller",
	})

	wigglerQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "wiggler",
		Name:      "queue_length",
		Help:      "number of servers currently tracked by a storage wiggler",
	}, []string{"dc_scope"})

	wigglerStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "wiggler",
		Name:      "wiggle_started_total",
		Help:      "count of wiggle cycles started, by namespace",
	}, []string{"dc_scope"})

	wigglerFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "wiggler",
		Name:      "wiggle_finished_total",
		Help:      "count of wiggle cycles finished, by namespace",
	}, []string{"dc_scope"})
)

func init() {
	Gather.MustRegister(
		ShardCount,
		InFlightMoves,
		RestartCounter,
		WigglerRoundDuration,
		WigglerWiggleDuration,
		SnapshotDuration,
		SnapshotFailures,
		MoveKeysLockLost,
		wigglerQueueLength,
		wigglerStarted,
		wigglerFinished,
	)
}

// Wiggler is a per-namespace handle onto the wiggler.* metrics, mirroring
// weed/stats' per-volume-server metric handles.
type Wiggler struct {
	scope string
}

// NewWiggler returns a metrics handle scoped to dc_scope=namespace.
func NewWiggler(namespace string) *Wiggler {
	return &Wiggler{scope: namespace}
}

func (w *Wiggler) SetQueueLength(n int) {
	wigglerQueueLength.WithLabelValues(w.scope).Set(float64(n))
}

func (w *Wiggler) IncWiggleStarted() {
	wigglerStarted.WithLabelValues(w.scope).Inc()
}

func (w *Wiggler) IncWiggleFinished() {
	wigglerFinished.WithLabelValues(w.scope).Inc()
}

func (w *Wiggler) ObserveWiggleDuration(d time.Duration) {
	WigglerWiggleDuration.WithLabelValues(w.scope).Set(d.Seconds())
}

func (w *Wiggler) ObserveRoundDuration(d time.Duration) {
	WigglerRoundDuration.WithLabelValues(w.scope).Set(d.Seconds())
}
