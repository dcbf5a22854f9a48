package client

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/conduit/task"
)

// Metrics records task service calls.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Task service requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Task service request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, task.ErrNotFound):
		return "not_found"
	case errors.Is(err, task.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, task.ErrNetworkFailure):
		return "network_failure"
	case errors.Is(err, task.ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, task.ErrInternal):
		return "internal"
	}
	return "error"
}
