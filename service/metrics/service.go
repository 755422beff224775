// Package metrics exports ENC run metrics as a Prometheus textfile.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NewService creates a metrics service writing to path. counter may be nil
// when the cache is disabled, in which case lookup counts are omitted.
func NewService(path string, counter LookupCounter) Service {
	return &service{path: path, counter: counter}
}

func (s *service) Write(ctx context.Context, run Run) error {
	if s.path == "" {
		return nil
	}

	registry := prometheus.NewRegistry()

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last classification.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_duration_seconds",
		Help:      "Duration of the last classification.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_success",
		Help:      "Whether the last classification produced a node definition.",
	})
	source := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_source",
		Help:      "Source of the last classification.",
	}, []string{"source"})
	registry.MustRegister(lastRun, duration, success, source)

	lastRun.Set(float64(run.At.UnixNano()) / 1e9)
	duration.Set(run.Duration.Seconds())
	if run.Err == nil {
		success.Set(1)
	}
	source.WithLabelValues(run.Source).Set(1)

	if s.counter != nil {
		counts, err := s.counter.LookupCounts(ctx, run.At.Add(-Window))
		if err != nil {
			return fmt.Errorf("failed to count lookups: %w", err)
		}
		lookups := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lookups_24h",
			Help:      "Lookups recorded in the last 24 hours by source.",
		}, []string{"source"})
		registry.MustRegister(lookups)
		for src, n := range counts {
			lookups.WithLabelValues(src).Set(float64(n))
		}
	}

	if err := prometheus.WriteToTextfile(s.path, registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
