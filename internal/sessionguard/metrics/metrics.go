package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveGuards     prometheus.Gauge
	ForcedLogouts    *prometheus.CounterVec
	Warnings         prometheus.Counter
	TimersCancelled  prometheus.Counter
	ActivityRecorded *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveGuards: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intake_guard_active",
			Help: "Session guards currently running",
		}),
		ForcedLogouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_guard_logouts_total",
			Help: "Guard-initiated logouts by reason",
		}, []string{"reason"}),
		Warnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_guard_warnings_total",
			Help: "Inactivity warnings issued",
		}),
		TimersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_guard_timers_cancelled_total",
			Help: "Pending timers cancelled at guard teardown",
		}),
		ActivityRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_guard_activity_total",
			Help: "Tracked interactions by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) GuardStarted() {
	if m == nil {
		return
	}
	m.ActiveGuards.Inc()
}

func (m *Metrics) GuardStopped(timersCancelled int) {
	if m == nil {
		return
	}
	m.ActiveGuards.Dec()
	m.TimersCancelled.Add(float64(timersCancelled))
}

func (m *Metrics) IncrementLogout(reason string) {
	if m == nil {
		return
	}
	m.ForcedLogouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementWarning() {
	if m == nil {
		return
	}
	m.Warnings.Inc()
}

func (m *Metrics) IncrementActivity(kind string) {
	if m == nil {
		return
	}
	m.ActivityRecorded.WithLabelValues(kind).Inc()
}
