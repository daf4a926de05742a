package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safeconnect"

// Agent 汇总 agent 侧指标。所有方法对 nil 接收者安全，测试里可以直接传 nil。
type Agent struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	decisions       *prometheus.CounterVec
	lookups         *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	tracked         *prometheus.GaugeVec
}

func NewAgent(reg prometheus.Registerer) *Agent {
	m := &Agent{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycles_total",
			Help:      "Completed reconciliation cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_cycle_duration_seconds",
			Help:      "Wall time of one reconciliation cycle including lookups and persistence.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_decisions_total",
			Help:      "Per-IP decisions taken by the reconciliation engine.",
		}, []string{"decision"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_lookups_total",
			Help:      "Reputation lookups by outcome.",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Atomic dataset writes that failed.",
		}, []string{"dataset"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Connection snapshots by result.",
		}, []string{"result"}),
		tracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_ips",
			Help:      "Number of IPs in each dataset after the last write.",
		}, []string{"dataset"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.decisions, m.lookups, m.persistFailures, m.snapshots, m.tracked)
	}
	return m
}

func (m *Agent) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Agent) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Agent) Lookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Agent) PersistFailure(dataset string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(dataset).Inc()
}

func (m *Agent) Snapshot(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.snapshots.WithLabelValues(result).Inc()
}

func (m *Agent) Tracked(dataset string, n int) {
	if m == nil {
		return
	}
	m.tracked.WithLabelValues(dataset).Set(float64(n))
}
