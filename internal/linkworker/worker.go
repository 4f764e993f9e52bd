// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package linkworker consumes session linking jobs and runs the temporal
// join between finished sessions and the raw data recorded during them.
package linkworker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/kzhang87/neuropipe/internal/broker"
	"github.com/kzhang87/neuropipe/internal/jobs"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/metrics"
)

// Linker runs the linking transaction.
type Linker interface {
	LinkSession(ctx context.Context, job *jobs.LinkJob) (int64, error)
	MarkLinkFailed(ctx context.Context, sessionID string) error
}

// Worker handles session linking jobs.
type Worker struct {
	db  Linker
	log zerolog.Logger
}

// New builds a linking worker.
func New(db Linker) *Worker {
	return &Worker{
		db:  db,
		log: logging.With().Str("component", "linkworker").Logger(),
	}
}

// Handle processes one linking delivery. Schema violations are poison. A
// failed linking transaction marks the session failed (best effort, outside
// the aborted transaction) and dead-letters the job: failed is terminal, so
// redelivering against a failed session would only churn.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) broker.Decision {
	log := logging.Ctx(ctx).With().Str("component", "linkworker").Logger()

	job, err := jobs.ParseLinkJob(d.Body)
	if err != nil {
		metrics.LinkJobOutcomes.WithLabelValues("poison").Inc()
		log.Warn().Err(err).Msg("malformed linking job, dead-lettering")
		return broker.Discard
	}

	linked, err := w.db.LinkSession(ctx, job)
	if err != nil {
		metrics.LinkJobOutcomes.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("session_id", job.SessionID).Msg("linking transaction failed, dead-lettering")
		if markErr := w.db.MarkLinkFailed(ctx, job.SessionID); markErr != nil {
			log.Error().Err(markErr).Str("session_id", job.SessionID).Msg("failed to mark session failed")
		}
		return broker.Discard
	}

	metrics.LinkJobOutcomes.WithLabelValues("completed").Inc()
	metrics.LinkedObjects.Add(float64(linked))
	log.Info().
		Str("session_id", job.SessionID).
		Str("experiment_id", job.ExperimentID).
		Int64("linked_objects", linked).
		Msg("session linked")
	return broker.Accept
}
