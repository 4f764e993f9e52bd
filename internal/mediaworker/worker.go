// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package mediaworker persists compressed media payloads and their metadata.
//
// Failure policy: malformed messages are poison and go to the dead-letter
// queue; object store and database failures are transient and requeue. A
// database failure after a successful upload triggers a compensating delete
// so the store and the metadata never diverge for long.
package mediaworker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/kzhang87/neuropipe/internal/broker"
	"github.com/kzhang87/neuropipe/internal/jobs"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/models"
	"github.com/kzhang87/neuropipe/internal/objectstore"
)

// ObjectStore is the slice of the object store the worker needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, payload []byte, originalMimetype string) error
	Remove(ctx context.Context, key string) error
}

// MetadataStore records media metadata rows.
type MetadataStore interface {
	InsertImage(ctx context.Context, img *models.ImageObject) error
	InsertAudioClip(ctx context.Context, clip *models.AudioClipObject) error
}

// Worker handles media persistence jobs.
type Worker struct {
	store ObjectStore
	db    MetadataStore
	log   zerolog.Logger

	// now is a seam for tests; unknown mimetypes have no usable
	// timestamp and fall back to the wall clock for key derivation.
	now func() time.Time
}

// New builds a media worker.
func New(store ObjectStore, db MetadataStore) *Worker {
	return &Worker{
		store: store,
		db:    db,
		log:   logging.With().Str("component", "mediaworker").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one media delivery.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) broker.Decision {
	log := logging.Ctx(ctx).With().Str("component", "mediaworker").Logger()

	job, err := jobs.ParseMediaJob(d.Headers, d.Body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed media message, dead-lettering")
		return broker.Discard
	}

	pathTime := job.PathTime()
	if pathTime.IsZero() {
		pathTime = w.now()
	}
	key := objectstore.MediaKey(job.UserID, job.SessionID, pathTime, job.OriginalFilename)

	if err := w.store.Put(ctx, key, job.Payload, job.Mimetype); err != nil {
		log.Error().Err(err).Str("object_id", key).Msg("object store upload failed, requeueing")
		return broker.Requeue
	}

	if err := w.insertMetadata(ctx, job, key); err != nil {
		log.Error().Err(err).Str("object_id", key).Msg("metadata insert failed, requeueing")
		// Compensating delete: the retried message re-uploads the same
		// deterministic key, so removing the orphan is safe.
		if rmErr := w.store.Remove(ctx, key); rmErr != nil {
			log.Error().Err(rmErr).Str("object_id", key).Msg("compensating delete failed")
		}
		return broker.Requeue
	}

	log.Info().
		Str("object_id", key).
		Str("kind", job.Kind().String()).
		Msg("media object persisted")
	return broker.Accept
}

func (w *Worker) insertMetadata(ctx context.Context, job *jobs.MediaJob, key string) error {
	switch job.Kind() {
	case jobs.MediaKindImage:
		return w.db.InsertImage(ctx, &models.ImageObject{
			ObjectID:     key,
			UserID:       job.UserID,
			SessionID:    job.SessionID,
			TimestampUTC: *job.Timestamp,
		})
	case jobs.MediaKindAudio:
		return w.db.InsertAudioClip(ctx, &models.AudioClipObject{
			ObjectID:  key,
			UserID:    job.UserID,
			SessionID: job.SessionID,
			StartTime: *job.StartTime,
			EndTime:   *job.EndTime,
		})
	default:
		// Stored but not indexed; nothing knows how to query it yet.
		w.log.Warn().Str("mimetype", job.Mimetype).Str("object_id", key).Msg("unhandled mimetype, skipping metadata insert")
		return nil
	}
}
