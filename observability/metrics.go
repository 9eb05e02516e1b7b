package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the engine, OCR and entitlement
// packages. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	ocrPages      *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfstudio_operations_total",
			Help: "Document operations applied, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfstudio_operation_duration_seconds",
			Help:    "Time spent applying a document operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ocrPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfstudio_ocr_pages_total",
			Help: "Pages recognized by the OCR pipeline, by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfstudio_verifications_total",
			Help: "Payment verification and recovery calls, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.operationTime, m.ocrPages, m.verifications} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveOperation(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(tool, outcome(err)).Inc()
	m.operationTime.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveOCRPage(err error) {
	if m == nil {
		return
	}
	m.ocrPages.WithLabelValues(outcome(err)).Inc()
}

// ObserveVerification counts a provider call; result is a short code such as
// "ok", "unpaid" or "not_found".
func (m *Metrics) ObserveVerification(kind, result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(kind, result).Inc()
}
