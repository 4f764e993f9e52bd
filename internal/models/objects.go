// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package models

import "time"

// RawDataObject is the metadata row for a stored raw sensor payload. Written
// once by the raw-sensor worker; the linking worker only reads it.
type RawDataObject struct {
	ObjectID  string    `json:"object_id"`
	UserID    string    `json:"user_id"`
	DeviceID  *string   `json:"device_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	DataType  string    `json:"data_type"` // "eeg", "imu", ...
}

// ImageObject is the metadata row for a stored image. ExperimentID starts nil
// and is back-filled by the linking worker once the owning session's
// experiment is known.
type ImageObject struct {
	ObjectID     string    `json:"object_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	ExperimentID *string   `json:"experiment_id,omitempty"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

// AudioClipObject is the metadata row for a stored audio clip. ExperimentID
// is back-filled the same way as for images.
type AudioClipObject struct {
	ObjectID     string    `json:"object_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	ExperimentID *string   `json:"experiment_id,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// SessionObjectLink is a junction row tying a raw data object to the session
// it temporally overlaps. The pair is unique; re-running the linking join for
// a session must not create duplicates.
type SessionObjectLink struct {
	SessionID string `json:"session_id"`
	ObjectID  string `json:"object_id"`
}
