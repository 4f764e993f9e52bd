// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AMQP header keys of the media job envelope. All values are strings;
// timestamps are ISO-8601 (RFC 3339).
const (
	HeaderUserID           = "user_id"
	HeaderSessionID        = "session_id"
	HeaderMimetype         = "mimetype"
	HeaderOriginalFilename = "original_filename"
	HeaderTimestampUTC     = "timestamp_utc"
	HeaderStartTimeUTC     = "start_time_utc"
	HeaderEndTimeUTC       = "end_time_utc"
)

// Media job validation errors. All of them mark a message as poison.
var (
	ErrMissingHeader    = errors.New("missing required header")
	ErrBadTimestamp     = errors.New("malformed timestamp header")
	ErrImageNeedsTime   = errors.New("image media requires timestamp_utc")
	ErrAudioNeedsWindow = errors.New("audio media requires start_time_utc and end_time_utc")
	ErrEmptyBody        = errors.New("media job has empty body")
)

// MediaKind classifies a media job by its mimetype family.
type MediaKind int

const (
	// MediaKindUnknown covers mimetypes the pipeline stores but records no
	// metadata for.
	MediaKindUnknown MediaKind = iota
	MediaKindImage
	MediaKindAudio
)

// String implements fmt.Stringer.
func (k MediaKind) String() string {
	switch k {
	case MediaKindImage:
		return "image"
	case MediaKindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// MediaJob is a validated media persistence job. Timestamp is set for image
// jobs; StartTime/EndTime are set for audio jobs.
type MediaJob struct {
	UserID           string
	SessionID        string
	Mimetype         string
	OriginalFilename string

	Timestamp *time.Time
	StartTime *time.Time
	EndTime   *time.Time

	Payload []byte
}

// Kind returns the mimetype family of the job.
func (j *MediaJob) Kind() MediaKind {
	switch {
	case strings.HasPrefix(j.Mimetype, "image/"):
		return MediaKindImage
	case strings.HasPrefix(j.Mimetype, "audio/"):
		return MediaKindAudio
	default:
		return MediaKindUnknown
	}
}

// PathTime returns the instant used in the derived object key: the image
// timestamp, or the audio start time, whichever is set.
func (j *MediaJob) PathTime() time.Time {
	if j.Timestamp != nil {
		return *j.Timestamp
	}
	if j.StartTime != nil {
		return *j.StartTime
	}
	// Unknown mimetypes carry neither; key derivation still needs an
	// instant, and validation guarantees this is only reached for them.
	return time.Time{}
}

// ParseMediaJob validates the header set and body of a media message and
// builds the strict job struct. Any returned error marks the message as
// poison: a malformed message can never become valid on redelivery.
func ParseMediaJob(headers map[string]any, body []byte) (*MediaJob, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	job := &MediaJob{Payload: body}

	var err error
	if job.UserID, err = requiredString(headers, HeaderUserID); err != nil {
		return nil, err
	}
	if job.SessionID, err = requiredString(headers, HeaderSessionID); err != nil {
		return nil, err
	}
	if job.Mimetype, err = requiredString(headers, HeaderMimetype); err != nil {
		return nil, err
	}
	if job.OriginalFilename, err = requiredString(headers, HeaderOriginalFilename); err != nil {
		return nil, err
	}

	if job.Timestamp, err = optionalTime(headers, HeaderTimestampUTC); err != nil {
		return nil, err
	}
	if job.StartTime, err = optionalTime(headers, HeaderStartTimeUTC); err != nil {
		return nil, err
	}
	if job.EndTime, err = optionalTime(headers, HeaderEndTimeUTC); err != nil {
		return nil, err
	}

	switch job.Kind() {
	case MediaKindImage:
		if job.Timestamp == nil {
			return nil, ErrImageNeedsTime
		}
	case MediaKindAudio:
		if job.StartTime == nil || job.EndTime == nil {
			return nil, ErrAudioNeedsWindow
		}
	}

	return job, nil
}

// requiredString extracts a non-empty string header.
func requiredString(headers map[string]any, key string) (string, error) {
	v, ok := headers[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingHeader, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingHeader, key)
	}
	return s, nil
}

// optionalTime extracts an RFC 3339 timestamp header if present.
func optionalTime(headers map[string]any, key string) (*time.Time, error) {
	v, ok := headers[key]
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadTimestamp, key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrBadTimestamp, key, s)
	}
	t = t.UTC()
	return &t, nil
}
