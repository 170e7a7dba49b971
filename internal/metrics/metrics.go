// Package metrics records rating and lifecycle measurements with
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// Ensure Collector implements the interface.
var _ driven.Metrics = (*Collector)(nil)

// Collector implements driven.Metrics on its own registry.
type Collector struct {
	registry    *prometheus.Registry
	evaluations *prometheus.CounterVec
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
	issues      *prometheus.CounterVec
}

// New creates a collector with the ratebook series registered alongside
// the Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratebook_rating_evaluations_total",
			Help: "Rating evaluations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratebook_rating_duration_seconds",
			Help:    "Time spent evaluating one rating context.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratebook_lifecycle_transitions_total",
			Help: "Committed lifecycle transitions by subject and target status.",
		}, []string{"subject", "to"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratebook_preflight_issues_total",
			Help: "Blocking preflight issues found, by code.",
		}, []string{"code"}),
	}
	c.registry.MustRegister(
		c.evaluations,
		c.duration,
		c.transitions,
		c.issues,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRating implements driven.Metrics.
func (c *Collector) ObserveRating(outcome string, elapsed time.Duration) {
	c.evaluations.WithLabelValues(outcome).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// CountTransition implements driven.Metrics.
func (c *Collector) CountTransition(subject, to string) {
	c.transitions.WithLabelValues(subject, to).Inc()
}

// CountPreflightIssue implements driven.Metrics.
func (c *Collector) CountPreflightIssue(code string) {
	c.issues.WithLabelValues(code).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
