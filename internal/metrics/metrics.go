// Package metrics exposes Prometheus collectors for the escalation
// lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	QuestionsAsked      prometheus.Counter
	CacheLookups        *prometheus.CounterVec
	Escalations         prometheus.Counter
	Transitions         *prometheus.CounterVec
	ResolutionDuration  prometheus.Histogram
	CacheUpdateFailures prometheus.Counter
	TimeoutRetries      prometheus.Counter
	ArmedTimers         prometheus.Gauge
}

// New builds collectors on a private registry so several engines can live
// in one process.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QuestionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_questions_asked_total",
			Help: "Questions submitted by customers.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_cache_lookups_total",
			Help: "Knowledge base lookups by result.",
		}, []string{"result"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_escalations_total",
			Help: "Help requests created for a supervisor.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_help_request_transitions_total",
			Help: "Terminal help request transitions by target status.",
		}, []string{"status"}),
		ResolutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontdesk_resolution_duration_seconds",
			Help:    "Time from escalation to supervisor resolution.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		CacheUpdateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_cache_update_failures_total",
			Help: "Resolved answers that could not be written to the knowledge base.",
		}),
		TimeoutRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_timeout_retries_total",
			Help: "Storage retries performed by escalation timeouts.",
		}),
		ArmedTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontdesk_armed_timers",
			Help: "Escalation timers currently armed in this process.",
		}),
	}
	m.Registry.MustRegister(
		m.QuestionsAsked,
		m.CacheLookups,
		m.Escalations,
		m.Transitions,
		m.ResolutionDuration,
		m.CacheUpdateFailures,
		m.TimeoutRetries,
		m.ArmedTimers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
