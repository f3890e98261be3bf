package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Flushes        *prometheus.CounterVec
	FlushDuration  prometheus.Histogram
	OpenCaches     prometheus.Gauge
	DraftsPurged   prometheus.Counter
	UpdatesApplied prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_draft_flushes_total",
			Help: "Draft writes to the store by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_draft_flush_duration_seconds",
			Help:    "Time spent writing a draft snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		OpenCaches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intake_draft_open_caches",
			Help: "Draft caches held in memory",
		}),
		DraftsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_draft_purged_total",
			Help: "Persisted drafts removed at logout",
		}),
		UpdatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_draft_updates_total",
			Help: "Field edits merged into draft caches",
		}),
	}
}

func (m *Metrics) ObserveFlush(trigger string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Flushes.WithLabelValues(trigger, outcome).Inc()
	m.FlushDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheOpened() {
	if m == nil {
		return
	}
	m.OpenCaches.Inc()
}

func (m *Metrics) CachesClosed(n int) {
	if m == nil {
		return
	}
	m.OpenCaches.Sub(float64(n))
}

func (m *Metrics) AddPurged(n int) {
	if m == nil {
		return
	}
	m.DraftsPurged.Add(float64(n))
}

func (m *Metrics) IncrementUpdates() {
	if m == nil {
		return
	}
	m.UpdatesApplied.Inc()
}
