// Package metrics exposes Prometheus counters for rerouting and job execution.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mattjoyce/reroute/internal/queue"
	"github.com/mattjoyce/reroute/internal/rerouting"
)

const namespace = "reroute"

// Metrics owns the collectors registered on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	redirects *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	jobs      *prometheus.CounterVec
	depth     prometheus.Gauge
}

// New registers all collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		redirects: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redirects_total",
				Help:      "Jobs re-submitted to a different queue instead of running.",
			},
			[]string{"from_queue", "to_queue"},
		),
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Interception outcomes by result.",
			},
			[]string{"result"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Queue entries that reached a final or retry state.",
			},
			[]string{"status"},
		),
		depth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Entries waiting in all queues, sampled by the dispatcher.",
			},
		),
	}
}

// OnReroute counts a redirect.
func (m *Metrics) OnReroute(_ context.Context, ev rerouting.Event) {
	m.redirects.WithLabelValues(ev.OldQueue, ev.NewQueue).Inc()
}

func (m *Metrics) ObserveLookup(result string) {
	m.lookups.WithLabelValues(result).Inc()
}

// JobFinished counts an entry outcome. A retried entry is reported as queued.
func (m *Metrics) JobFinished(_ context.Context, _ *queue.Entry, status queue.Status, _ error) {
	m.jobs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.depth.Set(float64(n))
}
