package observer

import (
	"context"
	"strconv"
	"time"

	"ojkit/internal/judge/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus records runner metrics as Prometheus collectors.
type Prometheus struct {
	CasesTotal    *prometheus.CounterVec
	CaseDuration  *prometheus.HistogramVec
	CompilesTotal *prometheus.CounterVec
}

// NewPrometheus registers the runner collectors on reg. A nil reg uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		CasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ojkit_test_cases_total",
			Help: "Total number of test cases run locally",
		}, []string{"status"}),
		CaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ojkit_test_case_duration_seconds",
			Help:    "Wall time of one test case run",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		CompilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ojkit_compiles_total",
			Help: "Total number of compile steps",
		}, []string{"ok"}),
	}
}

func (p *Prometheus) ObserveCase(_ context.Context, status model.Status, elapsed time.Duration) {
	label := status.Short()
	p.CasesTotal.WithLabelValues(label).Inc()
	p.CaseDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveCompile(_ context.Context, ok bool, _ time.Duration) {
	p.CompilesTotal.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

var _ MetricsRecorder = (*Prometheus)(nil)
