// Package metrics 帳務核心的 Prometheus 指標
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// 操作結果標籤
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeReplayed = "replayed"
	OutcomeFailed   = "failed"
)

// Ledger 指標集合，所有方法對 nil receiver 安全
type Ledger struct {
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Retries       prometheus.Counter
	PoolWait      prometheus.Histogram
	PoolExhausted prometheus.Counter
	PoolInFlight  prometheus.Gauge
	Dispatched    *prometheus.CounterVec
}

// New 建立並註冊指標
func New(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by type and outcome",
		}, []string{"type", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Operations restarted after a stale write",
		}),
		PoolWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a pooled connection",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		PoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "exhausted_total",
			Help:      "Acquisitions that timed out",
		}),
		PoolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_flight",
			Help:      "Connections currently held by units of work",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Transaction events by delivery result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Operations, m.Duration, m.Retries, m.PoolWait, m.PoolExhausted, m.PoolInFlight, m.Dispatched)
	return m
}

func (m *Ledger) ObserveOperation(typ, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(typ, outcome).Inc()
	m.Duration.WithLabelValues(typ).Observe(elapsed.Seconds())
}

func (m *Ledger) IncRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Ledger) ObservePoolWait(elapsed time.Duration, exhausted bool) {
	if m == nil {
		return
	}
	m.PoolWait.Observe(elapsed.Seconds())
	if exhausted {
		m.PoolExhausted.Inc()
	}
}

func (m *Ledger) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.PoolInFlight.Add(delta)
}

func (m *Ledger) IncDispatched(result string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(result).Inc()
}
