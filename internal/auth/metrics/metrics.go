package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoginsTotal      *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionsRevoked  *prometheus.CounterVec
	TRLWriteFailures prometheus.Counter
	TRLCheckLatency  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_auth_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intake_auth_active_sessions",
			Help: "Sessions created minus sessions revoked since process start",
		}),
		SessionsRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_auth_sessions_revoked_total",
			Help: "Sessions revoked by reason",
		}, []string{"reason"}),
		TRLWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_auth_trl_write_failures_total",
			Help: "Failed writes to the token revocation list",
		}),
		TRLCheckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_auth_trl_check_duration_seconds",
			Help:    "Latency of token revocation lookups",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
	}
}

func (m *Metrics) IncrementLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) IncrementRevoked(reason string) {
	if m == nil {
		return
	}
	m.SessionsRevoked.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) IncrementTRLFailure() {
	if m == nil {
		return
	}
	m.TRLWriteFailures.Inc()
}

func (m *Metrics) ObserveTRLCheck(d time.Duration) {
	if m == nil {
		return
	}
	m.TRLCheckLatency.Observe(d.Seconds())
}
