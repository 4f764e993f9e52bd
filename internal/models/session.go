// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package models

import "time"

// SessionType classifies a recording session.
type SessionType string

const (
	// SessionTypeCalibration marks a calibration run preceding a main session.
	SessionTypeCalibration SessionType = "calibration"

	// SessionTypeMain marks a main experiment session.
	SessionTypeMain SessionType = "main"
)

// LinkStatus tracks the session-linking worker's progress for a session.
// It is the only session field the linking worker mutates.
type LinkStatus string

const (
	// LinkStatusPending is the initial value at session-row creation.
	LinkStatusPending LinkStatus = "pending"

	// LinkStatusProcessing is set inside the linking transaction before the
	// overlap join runs.
	LinkStatusProcessing LinkStatus = "processing"

	// LinkStatusCompleted is set when the linking transaction commits.
	LinkStatusCompleted LinkStatus = "completed"

	// LinkStatusFailed is terminal; there is no automatic retry transition
	// back to pending. An operator has to intervene.
	LinkStatusFailed LinkStatus = "failed"
)

// Valid reports whether s is a known link status.
func (s LinkStatus) Valid() bool {
	switch s {
	case LinkStatusPending, LinkStatusProcessing, LinkStatusCompleted, LinkStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Allowed: pending→processing, processing→completed, processing→failed.
func (s LinkStatus) CanTransitionTo(next LinkStatus) bool {
	switch s {
	case LinkStatusPending:
		return next == LinkStatusProcessing
	case LinkStatusProcessing:
		return next == LinkStatusCompleted || next == LinkStatusFailed
	default:
		return false
	}
}

// Session is a recording session row. Immutable after creation except for
// LinkStatus, which the linking worker drives through its state machine.
type Session struct {
	SessionID    string      `json:"session_id"`
	UserID       string      `json:"user_id"`
	ExperimentID string      `json:"experiment_id"`
	DeviceID     *string     `json:"device_id,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	SessionType  SessionType `json:"session_type"`
	LinkStatus   LinkStatus  `json:"link_status"`
}
