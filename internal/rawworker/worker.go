// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package rawworker consumes fanned-out raw sensor payloads, reconstructs
// their time window from the device's boot-relative clock, and persists the
// compressed payload plus a metadata row.
package rawworker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/kzhang87/neuropipe/internal/broker"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/models"
	"github.com/kzhang87/neuropipe/internal/objectstore"
)

const unknownUser = "unknown_user"

// ObjectStore is the slice of the object store the worker needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, payload []byte, originalMimetype string) error
	Remove(ctx context.Context, key string) error
}

// MetadataStore records raw data object rows.
type MetadataStore interface {
	InsertRawDataObject(ctx context.Context, obj *models.RawDataObject) error
}

// Worker handles raw sensor payloads.
type Worker struct {
	store ObjectStore
	db    MetadataStore
	log   zerolog.Logger

	// now anchors device-clock reconstruction; a seam for tests.
	now func() time.Time
}

// New builds a raw sensor worker.
func New(store ObjectStore, db MetadataStore) *Worker {
	return &Worker{
		store: store,
		db:    db,
		log:   logging.With().Str("component", "rawworker").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one raw sensor delivery. Payloads that fail to
// decompress or decode are poison; empty frames are acknowledged and
// skipped. The payload is stored still compressed.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) broker.Decision {
	received := w.now()
	log := logging.Ctx(ctx).With().Str("component", "rawworker").Logger()

	userID := unknownUser
	if v, ok := d.Headers["user_id"].(string); ok && v != "" {
		userID = v
	}

	frame, err := DecompressFrame(d.Body)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable sensor payload, dead-lettering")
		return broker.Discard
	}
	if len(frame.Samples) == 0 {
		log.Debug().Str("device_id", frame.DeviceID).Msg("empty frame, skipping")
		return broker.Accept
	}

	start, end := frame.Window(received)
	key := objectstore.RawKey(userID, start, end, frame.DeviceID)

	if err := w.store.Put(ctx, key, d.Body, ""); err != nil {
		log.Error().Err(err).Str("object_id", key).Msg("object store upload failed, requeueing")
		return broker.Requeue
	}

	deviceID := frame.DeviceID
	if err := w.db.InsertRawDataObject(ctx, &models.RawDataObject{
		ObjectID:  key,
		UserID:    userID,
		DeviceID:  &deviceID,
		StartTime: start,
		EndTime:   end,
		DataType:  "eeg",
	}); err != nil {
		log.Error().Err(err).Str("object_id", key).Msg("metadata insert failed, requeueing")
		if rmErr := w.store.Remove(ctx, key); rmErr != nil {
			log.Error().Err(rmErr).Str("object_id", key).Msg("compensating delete failed")
		}
		return broker.Requeue
	}

	log.Info().
		Str("object_id", key).
		Str("device_id", frame.DeviceID).
		Int("samples", len(frame.Samples)).
		Msg("raw sensor payload persisted")
	return broker.Accept
}
