package observer

import (
	"context"
	"testing"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserveCase(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	ctx := context.Background()

	p.ObserveCase(ctx, model.StatusPassed, 10*time.Millisecond)
	p.ObserveCase(ctx, model.StatusPassed, 20*time.Millisecond)
	p.ObserveCase(ctx, model.StatusWrongAnswer, 5*time.Millisecond)
	p.ObserveCompile(ctx, false, time.Second)

	testutil.AssertEqual(t, promtestutil.ToFloat64(p.CasesTotal.WithLabelValues("AC")), 2.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(p.CasesTotal.WithLabelValues("WA")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(p.CompilesTotal.WithLabelValues("false")), 1.0)
	testutil.AssertEqual(t, promtestutil.CollectAndCount(p.CaseDuration), 2)

	n, err := promtestutil.GatherAndCount(reg, "ojkit_test_cases_total")
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, n, 2)
}
