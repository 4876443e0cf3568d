package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stages recorded in Metrics.
const (
	StageBind     = "bind"
	StageConnect  = "connect"
	StageAccept   = "accept"
	StageDelegate = "delegate"
)

// Push results recorded in Metrics.
const (
	PushSent        = "sent"
	PushInvalid     = "invalid"
	PushFailed      = "failed"
	PushUnavailable = "unavailable"
)

// Metrics are the supervisor's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	state       prometheus.Gauge
	cycles      prometheus.Counter
	failures    *prometheus.CounterVec
	activations *prometheus.CounterVec
	duration    prometheus.Histogram
	pushes      *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pushrelay",
			Name:      "state",
			Help:      "Current supervisor state (0 idle, 1 binding, 2 connecting, 3 serving, 4 draining, 5 stopped).",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "cycles_total",
			Help:      "Number of times the pipeline entered the binding state.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "failures_total",
			Help:      "Recovered failures by stage.",
		}, []string{"stage"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "activations_total",
			Help:      "Activations served, by delegate result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushrelay",
			Name:      "activation_duration_seconds",
			Help:      "Delegate run time per activation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "pushes_total",
			Help:      "Push attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.cycles, m.failures, m.activations, m.duration, m.pushes)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
	if s == StateBinding {
		m.cycles.Inc()
	}
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

func (m *Metrics) activation(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "restart"
	}
	m.activations.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) push(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}
