package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Relays       *prometheus.CounterVec
	RelayLatency prometheus.Histogram
	Retries      prometheus.Counter
	BreakerOpen  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Relays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_ocr_relays_total",
			Help: "Documents relayed to the OCR webhook by type and outcome",
		}, []string{"document_type", "outcome"}),
		RelayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_ocr_relay_duration_seconds",
			Help:    "End-to-end relay time including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_ocr_retries_total",
			Help: "Webhook calls retried after a transient failure",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intake_ocr_breaker_open",
			Help: "1 while the OCR webhook circuit breaker is open",
		}),
	}
}

func (m *Metrics) ObserveRelay(documentType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Relays.WithLabelValues(documentType, outcome).Inc()
	m.RelayLatency.Observe(d.Seconds())
}

func (m *Metrics) IncrementRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
