/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// End reasons recorded on EffectsEnded.
const (
	ReasonElapsed = "elapsed"
	ReasonFlushed = "flushed"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	EffectsStarted  *prometheus.CounterVec
	EffectsEnded    *prometheus.CounterVec
	BatchSwaps      prometheus.Counter
	BatchesRejected prometheus.Counter
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	PendingEffects  prometheus.Gauge
	ActiveEffects   prometheus.Gauge
	DriverRunning   prometheus.Gauge
}

// NewMetrics creates and registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EffectsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxline",
			Name:      "effects_started_total",
			Help:      "Effects whose start notification was published.",
		}, []string{"type"}),
		EffectsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxline",
			Name:      "effects_ended_total",
			Help:      "Effects whose end notification was published.",
		}, []string{"type", "reason"}),
		BatchSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fxline",
			Name:      "batch_swaps_total",
			Help:      "Batches installed on the timeline.",
		}),
		BatchesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fxline",
			Name:      "batches_rejected_total",
			Help:      "Batches rejected as malformed at ingestion.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fxline",
			Name:      "ticks_total",
			Help:      "Tick callbacks that advanced the queue.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fxline",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside a tick, including handlers.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		PendingEffects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fxline",
			Name:      "pending_effects",
			Help:      "Effects waiting to start.",
		}),
		ActiveEffects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fxline",
			Name:      "active_effects",
			Help:      "Effects started and not yet ended.",
		}),
		DriverRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fxline",
			Name:      "driver_running",
			Help:      "1 while the tick driver is running.",
		}),
	}

	m.registry.MustRegister(
		m.EffectsStarted,
		m.EffectsEnded,
		m.BatchSwaps,
		m.BatchesRejected,
		m.Ticks,
		m.TickDuration,
		m.PendingEffects,
		m.ActiveEffects,
		m.DriverRunning,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetQueue records queue partition sizes.
func (m *Metrics) SetQueue(pending, active int) {
	m.PendingEffects.Set(float64(pending))
	m.ActiveEffects.Set(float64(active))
}

// SetRunning records the driver state.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.DriverRunning.Set(1)
		return
	}
	m.DriverRunning.Set(0)
}
