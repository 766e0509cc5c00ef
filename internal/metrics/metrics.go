// Package metrics exposes Prometheus collectors for fanout, connections and grading.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classpulse"

// Metrics owns a private registry so tests can create as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	fanoutSends     *prometheus.CounterVec
	gradingRequests *prometheus.CounterVec
	gradingDuration prometheus.Histogram
	submissions     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_published_total",
			Help:      "Events accepted by the fanout hub, by kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the hub queue was full or stopped, by kind.",
		}, []string{"kind"}),
		fanoutSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "sends_total",
			Help:      "Per-connection envelope sends, by result.",
		}, []string{"result"}),
		gradingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "requests_total",
			Help:      "Grading calls, by outcome.",
		}, []string{"outcome"}),
		gradingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "duration_seconds",
			Help:      "Latency of grading calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "submissions_total",
			Help:      "Student submissions, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsPublished,
		m.eventsDropped,
		m.fanoutSends,
		m.gradingRequests,
		m.gradingDuration,
		m.submissions,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchConnections exports live connection counts read from stats on every scrape.
// stats must return the keys "students" and "instructors".
func (m *Metrics) WatchConnections(stats func() map[string]int) {
	if m == nil {
		return
	}
	for _, role := range []string{"students", "instructors"} {
		role := role
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "connections",
			Help:        "Currently registered connections, by role.",
			ConstLabels: prometheus.Labels{"role": role},
		}, func() float64 {
			return float64(stats()[role])
		}))
	}
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

// FanoutSend counts one envelope delivery attempt.
func (m *Metrics) FanoutSend(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.fanoutSends.WithLabelValues(result).Inc()
}

// GradingObserved records one grading call. outcome is "ok", "timeout" or "error".
func (m *Metrics) GradingObserved(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gradingRequests.WithLabelValues(outcome).Inc()
	m.gradingDuration.Observe(d.Seconds())
}

// Submission counts one submission attempt by outcome, e.g. "recorded" or "duplicate".
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}
