// Package metrics exports the counters of an archive run in the Prometheus
// text format, for pickup by a node-exporter textfile collector.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dhcgn/mbox-archive/stats"
)

// Recorder counts run events on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	runDuration  prometheus.Gauge
	lastRun      prometheus.Gauge
	lastRunError prometheus.Gauge
}

func New(source string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"source": source}

	return &Recorder{
		registry: reg,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "mbox_archive_events_total",
				Help:        "Archive events by type",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "mbox_archive_run_duration_seconds",
			Help:        "Duration of the last archive run in seconds",
			ConstLabels: labels,
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "mbox_archive_last_run_timestamp_seconds",
			Help:        "Unix time the last archive run finished",
			ConstLabels: labels,
		}),
		lastRunError: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "mbox_archive_last_run_failed",
			Help:        "1 if the last archive run aborted with a fatal error",
			ConstLabels: labels,
		}),
	}
}

// Subscriber is a stats subscriber feeding the event counter.
func (r *Recorder) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			r.events.WithLabelValues(string(evt.Type)).Inc()
		}
	}
}

// Finish records the end of a run.
func (r *Recorder) Finish(duration time.Duration, runErr error) {
	r.runDuration.Set(duration.Seconds())
	r.lastRun.SetToCurrentTime()
	if runErr != nil {
		r.lastRunError.Set(1)
	} else {
		r.lastRunError.Set(0)
	}
}

// WriteFile writes all metrics to path atomically.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
