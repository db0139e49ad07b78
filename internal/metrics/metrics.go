// Package metrics exposes the Prometheus collectors of the streaming server.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
	ResultTimeout   = "timeout"
)

// Rejection reasons.
const (
	ReasonBadRequest = "bad_request"
	ReasonBusy       = "busy"
)

var (
	// StreamsTotal counts accepted streams by how the response ended.
	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troupe_streams_total",
		Help: "Total number of streaming responses by outcome",
	}, []string{"outcome"})

	// RequestsRejected counts requests refused before a stream started.
	RequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troupe_requests_rejected_total",
		Help: "Total number of rejected stream requests by reason",
	}, []string{"reason"})

	// ActiveRuns tracks conversation runs currently in flight.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "troupe_active_runs",
		Help: "Number of conversation runs in flight",
	})

	// MessagesRelayed counts data frames written to clients.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "troupe_messages_relayed_total",
		Help: "Total number of conversation messages written to clients",
	})

	// ClientDisconnects counts streams whose client went away before the end.
	ClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "troupe_client_disconnects_total",
		Help: "Total number of streams aborted by the client",
	})

	// RunsTotal counts finished runs by result.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troupe_runs_total",
		Help: "Total number of finished conversation runs by result",
	}, []string{"result"})

	// RunDuration tracks how long runs take.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "troupe_run_duration_seconds",
		Help:    "Duration of conversation runs",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})
)

// RunResult maps the error a run ended with to a result label.
func RunResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultCancelled
	default:
		return ResultFailed
	}
}

// ObserveRun records a finished run.
func ObserveRun(err error, duration time.Duration) {
	result := RunResult(err)
	RunsTotal.WithLabelValues(result).Inc()
	RunDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// IncRejected records a refused request.
func IncRejected(reason string) {
	RequestsRejected.WithLabelValues(reason).Inc()
}

// IncStream records how an accepted stream ended.
func IncStream(outcome string) {
	StreamsTotal.WithLabelValues(outcome).Inc()
}
