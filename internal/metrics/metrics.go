// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package metrics holds the Prometheus instruments for the fleet core:
// event recording, webhook delivery, configuration refresh, the worker pool
// and the admin API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event Logger Metrics
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_events_total",
			Help: "Total number of events accepted by the event logger",
		},
		[]string{"scope", "severity"},
	)

	EventsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_events_filtered_total",
			Help: "Total number of events not recorded",
		},
		[]string{"reason"}, // "disabled", "action"
	)

	LogRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_log_rotations_total",
			Help: "Total number of event log file rotations",
		},
	)

	LogWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_log_write_errors_total",
			Help: "Total number of failed event log appends or rotations",
		},
	)

	// Webhook Queue Metrics
	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_webhook_queue_depth",
			Help: "Current number of entries waiting for webhook delivery",
		},
	)

	WebhookQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_webhook_queue_dropped_total",
			Help: "Total number of queued entries dropped because the queue was full",
		},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"status"}, // "sent", "failed"
	)

	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_webhook_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	WebhookBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_webhook_breaker_state",
			Help: "Webhook circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Configuration Store Metrics
	ConfigRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_config_refresh_total",
			Help: "Total number of configuration refresh checks by result",
		},
		[]string{"result"}, // "refreshed", "unchanged", "error"
	)

	ConfigSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_config_saves_total",
			Help: "Total number of configuration saves by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	ConfigVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_config_version",
			Help: "Version marker (epoch ms) of the cached configuration snapshot",
		},
	)

	// Worker Pool Metrics
	WorkerExits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_worker_exits_total",
			Help: "Total number of worker process exits",
		},
	)

	WorkerForks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_worker_forks_total",
			Help: "Total number of worker processes forked",
		},
	)

	WorkersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_workers_online",
			Help: "Current number of workers that have signalled readiness",
		},
	)

	Recycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_recycles_total",
			Help: "Total number of coordinated pool recycles",
		},
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_api_active_requests",
			Help: "Current number of in-flight admin API requests",
		},
	)
)

// RecordAPIRequest records one completed API request. route is the chi
// route pattern, not the raw path, to bound label cardinality.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
