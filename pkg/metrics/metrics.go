// Package metrics exposes Prometheus metrics for the handset.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "handset"

// Turn statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// Metrics holds all Prometheus metrics of the handset.
type Metrics struct {
	registry *prometheus.Registry

	HookEventsTotal     *prometheus.CounterVec
	ConversationsActive prometheus.Gauge
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	TurnRetriesTotal    prometheus.Counter
	AudioBytesTotal     *prometheus.CounterVec
	DeviceActionsTotal  *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_events_total",
				Help:      "Total number of hook switch events",
			},
			[]string{"state"}, // up, down
		),
		ConversationsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversations_active",
				Help:      "Number of conversations in progress",
			},
		),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of assistant turns",
			},
			[]string{"status"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Assistant turn duration in seconds, retries included",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 185},
			},
			[]string{"status"},
		),
		TurnRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turn_retries_total",
				Help:      "Total number of retried turn attempts",
			},
		),
		AudioBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Total audio bytes streamed",
			},
			[]string{"direction"}, // in, out
		),
		DeviceActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_actions_total",
				Help:      "Total number of device action requests",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.HookEventsTotal,
		m.ConversationsActive,
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnRetriesTotal,
		m.AudioBytesTotal,
		m.DeviceActionsTotal,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHookEvent counts a hook transition to state.
func (m *Metrics) RecordHookEvent(state string) {
	if m == nil {
		return
	}
	m.HookEventsTotal.WithLabelValues(state).Inc()
}

// RecordConversationStart marks a conversation as started.
func (m *Metrics) RecordConversationStart() {
	if m == nil {
		return
	}
	m.ConversationsActive.Inc()
}

// RecordConversationEnd marks a conversation as ended.
func (m *Metrics) RecordConversationEnd() {
	if m == nil {
		return
	}
	m.ConversationsActive.Dec()
}

// RecordTurn records a finished turn made of attempts calls.
func (m *Metrics) RecordTurn(status string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
	if attempts > 1 {
		m.TurnRetriesTotal.Add(float64(attempts - 1))
	}
}

// RecordAudio counts audio bytes sent ("in") or played ("out").
func (m *Metrics) RecordAudio(direction string, n int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordDeviceAction counts a device action request.
func (m *Metrics) RecordDeviceAction(status string) {
	if m == nil {
		return
	}
	m.DeviceActionsTotal.WithLabelValues(status).Inc()
}
