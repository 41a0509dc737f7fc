// Package metrics exposes conversion counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxbrian/surge-qx/internal/converter"
)

// Line outcome labels.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Collector records conversion stats. It satisfies converter.Recorder.
type Collector struct {
	registry    *prometheus.Registry
	conversions *prometheus.CounterVec
	lines       *prometheus.CounterVec
	fatal       *prometheus.CounterVec
}

var _ converter.Recorder = (*Collector)(nil)

// NewCollector creates a Collector registered on its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surgeqx_conversions_total",
			Help: "Completed conversions by input mode",
		}, []string{"mode"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surgeqx_lines_total",
			Help: "Input lines by mode and outcome",
		}, []string{"mode", "outcome"}),
		fatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surgeqx_fatal_errors_total",
			Help: "Conversions that fell back to the error output, by error code",
		}, []string{"code"}),
	}
	c.registry.MustRegister(c.conversions, c.lines, c.fatal)
	return c
}

// Record implements converter.Recorder.
func (c *Collector) Record(mode string, stats converter.Stats) {
	c.conversions.WithLabelValues(mode).Inc()
	c.lines.WithLabelValues(mode, OutcomeProcessed).Add(float64(stats.ProcessedLines))
	c.lines.WithLabelValues(mode, OutcomeSkipped).Add(float64(stats.SkippedLines))
	c.lines.WithLabelValues(mode, OutcomeError).Add(float64(stats.ErrorLines))
}

// RecordFatal counts a conversion that ended in the fallback output.
func (c *Collector) RecordFatal(code string) {
	c.fatal.WithLabelValues(code).Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
