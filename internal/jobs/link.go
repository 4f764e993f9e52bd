// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Link job validation errors.
var (
	ErrBadLinkJob    = errors.New("malformed link job")
	ErrLinkJobWindow = errors.New("link job end_time must be after start_time")
)

// validate is shared across parses; a validator.Validate is safe for
// concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// LinkJob is the session-finalization message consumed by the linking
// worker. All fields are required; timestamps are ISO-8601 in the wire form.
type LinkJob struct {
	SessionID    string    `json:"session_id" validate:"required"`
	UserID       string    `json:"user_id" validate:"required"`
	ExperimentID string    `json:"experiment_id" validate:"required"`
	StartTime    time.Time `json:"start_time" validate:"required"`
	EndTime      time.Time `json:"end_time" validate:"required"`
}

// ParseLinkJob parses and validates a link job body. Any returned error
// marks the message as poison.
func ParseLinkJob(body []byte) (*LinkJob, error) {
	var job LinkJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLinkJob, err)
	}
	if err := validate.Struct(&job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLinkJob, err)
	}
	if !job.EndTime.After(job.StartTime) {
		return nil, ErrLinkJobWindow
	}
	return &job, nil
}

// Encode serializes the job for publishing.
func (j *LinkJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}
