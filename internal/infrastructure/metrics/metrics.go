// Package metrics exposes the console's Prometheus collectors.
//
// Collectors are registered on a caller-supplied registry, so tests and
// multiple servers in one process never collide on the default registry.
// Metrics satisfies the recorder interfaces of the heartbeat scheduler and
// the device synchronizer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iotconsole"

// Metrics holds every collector the console records.
type Metrics struct {
	registry *prometheus.Registry

	SweepsTotal          *prometheus.CounterVec
	DevicesMarkedOffline prometheus.Counter
	SweepDuration        prometheus.Histogram

	ReconcileTotal *prometheus.CounterVec
	SyncedDevices  prometheus.Gauge
	TogglesTotal   *prometheus.CounterVec
	ToggleDuration *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WebSocketClients prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry carrying the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SweepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_sweeps_total",
				Help:      "Offline sweeps run, by outcome.",
			},
			[]string{"outcome"},
		),
		DevicesMarkedOffline: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_marked_offline_total",
			Help:      "Devices flipped offline by the sweep.",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "offline_sweep_duration_seconds",
			Help:      "Time taken by one offline sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		ReconcileTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_total",
				Help:      "Device list reconciles, by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		SyncedDevices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_last_devices",
			Help:      "Device count returned by the most recent successful reconcile.",
		}),
		TogglesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "toggles_total",
				Help:      "Optimistic toggles, by outcome (ok, failed, failsafe, rejected).",
			},
			[]string{"outcome"},
		),
		ToggleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "toggle_duration_seconds",
				Help:      "Time from optimistic flip to confirmation or revert.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"outcome"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests, by method, route pattern and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency, by method and route pattern.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SweepCompleted records one offline sweep.
func (m *Metrics) SweepCompleted(markedOffline int, err error, elapsed time.Duration) {
	if err != nil {
		m.SweepsTotal.WithLabelValues("error").Inc()
	} else {
		m.SweepsTotal.WithLabelValues("ok").Inc()
		m.DevicesMarkedOffline.Add(float64(markedOffline))
	}
	m.SweepDuration.Observe(elapsed.Seconds())
}

// ReconcileCompleted records one device list reconcile.
func (m *Metrics) ReconcileCompleted(trigger string, ok bool, devices int) {
	outcome := "error"
	if ok {
		outcome = "ok"
		m.SyncedDevices.Set(float64(devices))
	}
	m.ReconcileTotal.WithLabelValues(trigger, outcome).Inc()
}

// ToggleCompleted records a toggle outcome. Owner and device are not used as
// labels to keep cardinality bounded.
func (m *Metrics) ToggleCompleted(_, _ string, outcome string, elapsed time.Duration) {
	m.TogglesTotal.WithLabelValues(outcome).Inc()
	m.ToggleDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRequest records one HTTP request. route is the router pattern,
// not the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// WebSocketConnected increments the client gauge.
func (m *Metrics) WebSocketConnected() { m.WebSocketClients.Inc() }

// WebSocketDisconnected decrements the client gauge.
func (m *Metrics) WebSocketDisconnected() { m.WebSocketClients.Dec() }
