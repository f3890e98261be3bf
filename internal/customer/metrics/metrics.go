package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submissions     *prometheus.CounterVec
	InvalidFields   *prometheus.CounterVec
	DraftClearFails prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_customer_submissions_total",
			Help: "Registration submissions by outcome",
		}, []string{"outcome"}),
		InvalidFields: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_customer_invalid_fields_total",
			Help: "Fields rejected by registration validation",
		}, []string{"field"}),
		DraftClearFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_customer_draft_clear_failures_total",
			Help: "Submissions whose draft could not be cleared",
		}),
	}
}

func (m *Metrics) IncrementSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementInvalidField(field string) {
	if m == nil {
		return
	}
	m.InvalidFields.WithLabelValues(field).Inc()
}

func (m *Metrics) IncrementDraftClearFailure() {
	if m == nil {
		return
	}
	m.DraftClearFails.Inc()
}
