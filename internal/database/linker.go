// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package database

import (
	"context"
	"time"

	"github.com/kzhang87/neuropipe/internal/jobs"
	"github.com/kzhang87/neuropipe/internal/metrics"
	"github.com/kzhang87/neuropipe/internal/models"
)

// LinkSession runs the full linking pass for one session in a single
// transaction: mark the session processing, join temporally overlapping raw
// data objects into the junction table, back-fill the experiment on the
// session's media rows, and mark the session completed. Returns the number of
// new junction rows.
//
// The overlap join uses half-open interval semantics: an object is linked
// when it starts before the session ends and ends after the session starts,
// so touching endpoints do not match. The junction insert ignores conflicts,
// which makes the whole pass idempotent under redelivery.
func (s *Store) LinkSession(ctx context.Context, job *jobs.LinkJob) (int64, error) {
	start := time.Now()
	linked, err := s.linkSession(ctx, job)
	metrics.RecordDBOperation("link_session", start, err)
	return linked, err
}

func (s *Store) linkSession(ctx context.Context, job *jobs.LinkJob) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET link_status = $2 WHERE session_id = $1`,
		job.SessionID, models.LinkStatusProcessing); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO session_object_links (session_id, object_id)
		SELECT $1, object_id FROM raw_data_objects
		WHERE user_id = $2
		  AND start_time < $3
		  AND end_time > $4
		ON CONFLICT (session_id, object_id) DO NOTHING`,
		job.SessionID, job.UserID, job.EndTime, job.StartTime)
	if err != nil {
		return 0, err
	}
	linked := tag.RowsAffected()

	if _, err := tx.Exec(ctx,
		`UPDATE images SET experiment_id = $1 WHERE session_id = $2`,
		job.ExperimentID, job.SessionID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE audio_clips SET experiment_id = $1 WHERE session_id = $2`,
		job.ExperimentID, job.SessionID); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET link_status = $2 WHERE session_id = $1`,
		job.SessionID, models.LinkStatusCompleted); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.log.Info().
		Str("session_id", job.SessionID).
		Int64("linked_objects", linked).
		Msg("session linking completed")
	return linked, nil
}

// MarkLinkFailed sets the session's link status to failed. Called outside
// the aborted linking transaction; best effort, since the session row may
// not even exist.
func (s *Store) MarkLinkFailed(ctx context.Context, sessionID string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET link_status = $2 WHERE session_id = $1`,
		sessionID, models.LinkStatusFailed)
	metrics.RecordDBOperation("mark_link_failed", start, err)
	return err
}
