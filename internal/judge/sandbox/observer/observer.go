// Package observer defines metrics hooks for local test execution.
package observer

import (
	"context"
	"time"

	"ojkit/internal/judge/model"
)

// MetricsRecorder records runner metrics.
type MetricsRecorder interface {
	ObserveCase(ctx context.Context, status model.Status, elapsed time.Duration)
	ObserveCompile(ctx context.Context, ok bool, elapsed time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveCase(context.Context, model.Status, time.Duration) {}
func (Noop) ObserveCompile(context.Context, bool, time.Duration)      {}

var _ MetricsRecorder = Noop{}
