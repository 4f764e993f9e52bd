// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package database persists recording metadata and session links in
// PostgreSQL through a pgx connection pool.
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kzhang87/neuropipe/internal/config"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/metrics"
	"github.com/kzhang87/neuropipe/internal/models"
)

// pool is the slice of pgxpool.Pool the store uses, substitutable in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store wraps the metadata database.
type Store struct {
	pool pool
	log  zerolog.Logger
}

// Connect opens a connection pool against cfg.URL and verifies it with a
// ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return newStore(p), nil
}

func newStore(p pool) *Store {
	return &Store{
		pool: p,
		log:  logging.With().Str("component", "database").Logger(),
	}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable. Used by the readiness
// endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertImage records a stored image. The insert is idempotent: media object
// keys are deterministic, so a redelivered message hits the same primary key
// and becomes a no-op.
func (s *Store) InsertImage(ctx context.Context, img *models.ImageObject) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO images (object_id, user_id, session_id, timestamp_utc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (object_id) DO NOTHING`,
		img.ObjectID, img.UserID, img.SessionID, img.TimestampUTC)
	metrics.RecordDBOperation("insert_image", start, err)
	return err
}

// InsertAudioClip records a stored audio clip, idempotently like
// InsertImage.
func (s *Store) InsertAudioClip(ctx context.Context, clip *models.AudioClipObject) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audio_clips (object_id, user_id, session_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (object_id) DO NOTHING`,
		clip.ObjectID, clip.UserID, clip.SessionID, clip.StartTime, clip.EndTime)
	metrics.RecordDBOperation("insert_audio_clip", start, err)
	return err
}

// InsertRawDataObject records a stored raw sensor payload.
func (s *Store) InsertRawDataObject(ctx context.Context, obj *models.RawDataObject) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_data_objects (object_id, user_id, device_id, start_time, end_time, data_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (object_id) DO NOTHING`,
		obj.ObjectID, obj.UserID, obj.DeviceID, obj.StartTime, obj.EndTime, obj.DataType)
	metrics.RecordDBOperation("insert_raw_data_object", start, err)
	return err
}
