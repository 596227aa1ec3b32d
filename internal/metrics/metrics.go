// SPDX-License-Identifier: MIT

// Package metrics defines the prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamReconnects counts reconnect attempts of the event stream by reason.
	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcnode_stream_reconnects_total",
		Help: "Total number of event-stream reconnect attempts by failure reason",
	}, []string{"reason"})

	// StreamConnected reports whether the event stream is currently open.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calcnode_stream_connected",
		Help: "1 while the bidirectional event stream is open, 0 otherwise",
	})

	// EventsReceived counts inbound stream events by type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcnode_events_received_total",
		Help: "Total number of inbound stream events by event type",
	}, []string{"type"})

	// EventsSent counts outbound stream events by type.
	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcnode_events_sent_total",
		Help: "Total number of outbound stream events by event type",
	}, []string{"type"})

	// HandlerDuration tracks calculation-handler execution time.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calcnode_handler_duration_seconds",
		Help:    "Execution time of calculation handlers by processor and outcome",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
	}, []string{"processor", "outcome"})

	// TokenRequests counts login/refresh calls against the auth service.
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcnode_token_requests_total",
		Help: "Total number of auth-service calls by operation and outcome",
	}, []string{"operation", "outcome"})

	// RepositoryRequests counts REST calls against the entity API.
	RepositoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcnode_repository_requests_total",
		Help: "Total number of entity API requests by method and status class",
	}, []string{"method", "status"})
)

// ObserveHandler records one handler execution.
func ObserveHandler(processor string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	HandlerDuration.WithLabelValues(processor, outcome).Observe(time.Since(start).Seconds())
}

// RecordTokenRequest records one login or refresh attempt.
func RecordTokenRequest(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	TokenRequests.WithLabelValues(operation, outcome).Inc()
}
