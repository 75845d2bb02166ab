// Package metrics provides Prometheus-based metrics for the conversation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records engine metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	messagesTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	activeSessions     prometheus.Gauge
	handleDuration     prometheus.Histogram
}

// NewRecorder registers the engine metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ispbot_messages_total",
				Help: "Inbound messages by arbitration route",
			},
			[]string{"route"},
		),
		cancellationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ispbot_cancellations_total",
				Help: "Sessions cleared by the universal cancellation handler",
			},
			[]string{"flow"},
		),
		validationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ispbot_validation_failures_total",
				Help: "Rejected step inputs by step",
			},
			[]string{"step"},
		),
		capabilityCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ispbot_capability_calls_total",
				Help: "Device action invocations by action and result",
			},
			[]string{"action", "result"},
		),
		capabilityDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ispbot_capability_duration_seconds",
				Help:    "Duration of device action invocations",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "ispbot_active_sessions",
			Help: "Sessions currently held in memory",
		}),
		handleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ispbot_message_handle_seconds",
			Help:    "Time spent handling one inbound message",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Message counts one inbound message routed to route.
func (r *Recorder) Message(route string) {
	if r == nil {
		return
	}
	r.messagesTotal.WithLabelValues(route).Inc()
}

// Cancellation counts one cancelled session of flow.
func (r *Recorder) Cancellation(flow string) {
	if r == nil {
		return
	}
	r.cancellationsTotal.WithLabelValues(flow).Inc()
}

// ValidationFailure counts one rejected input at step.
func (r *Recorder) ValidationFailure(step string) {
	if r == nil {
		return
	}
	r.validationFailures.WithLabelValues(step).Inc()
}

// Capability records a finished device action call.
func (r *Recorder) Capability(action string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.capabilityCalls.WithLabelValues(action, result).Inc()
	r.capabilityDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ActiveSessions sets the session gauge.
func (r *Recorder) ActiveSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

// HandleDuration observes the time spent on one message.
func (r *Recorder) HandleDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.handleDuration.Observe(d.Seconds())
}
