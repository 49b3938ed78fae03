package sinks

import (
	"context"

	"github.com/bizradar/reddit-scanner/internal/metrics"
	"github.com/bizradar/reddit-scanner/internal/progress"
)

// Prometheus counts progress events per stage.
type Prometheus struct{}

// NewPrometheus builds the metrics sink. Collectors are registered via
// metrics.Init.
func NewPrometheus() *Prometheus {
	metrics.Init()
	return &Prometheus{}
}

// Consume bumps the per-stage event counter.
func (s *Prometheus) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		metrics.ObserveProgressEvent(string(evt.Stage))
	}
	return nil
}

// Close is a no-op for the metrics sink.
func (s *Prometheus) Close(_ context.Context) error { return nil }
