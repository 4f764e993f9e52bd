// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package metrics defines the Prometheus instrumentation for the pipeline:
// broker connection health, per-queue consumption outcomes, handler latency,
// and downstream store operations. All metrics are registered via promauto
// and exposed on the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Broker metrics.
	BrokerReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_ready",
			Help: "1 when the AMQP connection is established and topology is declared",
		},
	)

	BrokerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of broker reconnection attempts",
		},
	)

	BrokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publishes_total",
			Help: "Total messages published, by destination and outcome",
		},
		[]string{"destination", "outcome"}, // outcome: ok, not_ready, error
	)

	// Consumer metrics.
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_consumed_total",
			Help: "Total messages delivered to handlers, by queue",
		},
		[]string{"queue"},
	)

	MessageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_outcomes_total",
			Help: "Handler decisions, by queue and outcome",
		},
		[]string{"queue", "outcome"}, // outcome: ack, requeue, discard, dead_letter
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_seconds",
			Help:    "Message handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Object store metrics.
	ObjectStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstore_operations_total",
			Help: "Object store operations, by operation and outcome",
		},
		[]string{"operation", "outcome"}, // operation: put, remove, stat
	)

	ObjectStoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "objectstore_breaker_open",
			Help: "1 when the object store circuit breaker is open",
		},
	)

	// Database metrics.
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_operations_total",
			Help: "Database operations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Linking metrics.
	LinkedObjects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linked_objects_total",
			Help: "Total raw data objects linked to sessions",
		},
	)

	LinkJobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_jobs_total",
			Help: "Session-linking jobs, by outcome",
		},
		[]string{"outcome"}, // completed, failed, poison
	)
)

// ObserveHandler records a handler run for a queue.
func ObserveHandler(queue string, start time.Time) {
	HandlerDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())
}

// RecordDBOperation records a database operation and its duration.
func RecordDBOperation(operation string, start time.Time, err error) {
	DBOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DBOperations.WithLabelValues(operation, outcome).Inc()
}
