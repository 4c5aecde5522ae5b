// Package metrics counts page runs, actions and open tabs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagerun"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	pageRuns       *prometheus.CounterVec
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	openTabs       prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		pageRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_runs_total",
			Help:      "Finished page runs by final state and fault code.",
		}, []string{"state", "fault"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed page actions by name and outcome.",
		}, []string{"action", "outcome"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Page action wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"action"}),
		openTabs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tabs_open",
			Help:      "Tabs currently opened by runs.",
		}),
	}
}

func (m *Metrics) PageRun(state, fault string) {
	if m == nil {
		return
	}
	m.pageRuns.WithLabelValues(state, fault).Inc()
}

// Action records one action execution. outcome is "ok", "skipped" (a best
// effort timeout) or a fault code.
func (m *Metrics) Action(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(name, outcome).Inc()
	m.actionDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) TabOpened() {
	if m != nil {
		m.openTabs.Inc()
	}
}

func (m *Metrics) TabClosed() {
	if m != nil {
		m.openTabs.Dec()
	}
}

// Registry exposes the underlying registry, mainly to tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
