// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package models

import "time"

// Experiment is experiment metadata referenced by sessions and, after
// linking, by media objects. Not mutated by the pipeline.
type Experiment struct {
	ExperimentID string    `json:"experiment_id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event is a single event marker within a session, typically imported from a
// CSV event file at session finalization. Written by the ingress layer only.
type Event struct {
	SessionID   string  `json:"session_id"`
	OnsetS      float64 `json:"onset_s"`
	DurationS   float64 `json:"duration_s"`
	Description *string `json:"description,omitempty"`
	Value       *string `json:"value,omitempty"`
}
