// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package jobs

import (
	"errors"
	"testing"
	"time"
)

func validMediaHeaders() map[string]any {
	return map[string]any{
		HeaderUserID:           "user-1",
		HeaderSessionID:        "sess-1",
		HeaderMimetype:         "image/png",
		HeaderOriginalFilename: "frame_001.png",
		HeaderTimestampUTC:     "2026-03-01T12:00:00Z",
	}
}

func TestParseMediaJobImage(t *testing.T) {
	t.Parallel()

	job, err := ParseMediaJob(validMediaHeaders(), []byte{0x28, 0xb5, 0x2f, 0xfd})
	if err != nil {
		t.Fatalf("ParseMediaJob error: %v", err)
	}
	if job.Kind() != MediaKindImage {
		t.Errorf("Kind() = %v, want image", job.Kind())
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if job.Timestamp == nil || !job.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", job.Timestamp, want)
	}
	if !job.PathTime().Equal(want) {
		t.Errorf("PathTime() = %v, want %v", job.PathTime(), want)
	}
}

func TestParseMediaJobAudio(t *testing.T) {
	t.Parallel()

	headers := validMediaHeaders()
	headers[HeaderMimetype] = "audio/ogg"
	delete(headers, HeaderTimestampUTC)
	headers[HeaderStartTimeUTC] = "2026-03-01T12:00:00Z"
	headers[HeaderEndTimeUTC] = "2026-03-01T12:00:30Z"

	job, err := ParseMediaJob(headers, []byte("payload"))
	if err != nil {
		t.Fatalf("ParseMediaJob error: %v", err)
	}
	if job.Kind() != MediaKindAudio {
		t.Errorf("Kind() = %v, want audio", job.Kind())
	}
	if job.StartTime == nil || job.EndTime == nil {
		t.Fatal("audio job should carry start and end times")
	}
	if !job.PathTime().Equal(*job.StartTime) {
		t.Errorf("PathTime() should be the audio start time")
	}
}

func TestParseMediaJobPoison(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		body    []byte
		wantErr error
	}{
		{"missing mimetype", func(h map[string]any) { delete(h, HeaderMimetype) }, []byte("x"), ErrMissingHeader},
		{"missing user_id", func(h map[string]any) { delete(h, HeaderUserID) }, []byte("x"), ErrMissingHeader},
		{"empty session_id", func(h map[string]any) { h[HeaderSessionID] = "" }, []byte("x"), ErrMissingHeader},
		{"non-string header", func(h map[string]any) { h[HeaderUserID] = 42 }, []byte("x"), ErrMissingHeader},
		{"image without timestamp", func(h map[string]any) { delete(h, HeaderTimestampUTC) }, []byte("x"), ErrImageNeedsTime},
		{"bad timestamp", func(h map[string]any) { h[HeaderTimestampUTC] = "yesterday" }, []byte("x"), ErrBadTimestamp},
		{"audio without window", func(h map[string]any) {
			h[HeaderMimetype] = "audio/ogg"
			delete(h, HeaderTimestampUTC)
		}, []byte("x"), ErrAudioNeedsWindow},
		{"empty body", func(h map[string]any) {}, nil, ErrEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			headers := validMediaHeaders()
			tt.mutate(headers)
			_, err := ParseMediaJob(headers, tt.body)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseMediaJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMediaJobUnknownMimetype(t *testing.T) {
	t.Parallel()

	headers := validMediaHeaders()
	headers[HeaderMimetype] = "video/mp4"
	delete(headers, HeaderTimestampUTC)

	// Unknown mimetypes have no timestamp requirement; the job is stored
	// without a metadata row.
	job, err := ParseMediaJob(headers, []byte("x"))
	if err != nil {
		t.Fatalf("ParseMediaJob error: %v", err)
	}
	if job.Kind() != MediaKindUnknown {
		t.Errorf("Kind() = %v, want unknown", job.Kind())
	}
	if !job.PathTime().IsZero() {
		t.Errorf("PathTime() = %v, want zero", job.PathTime())
	}
}

func TestParseLinkJob(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"session_id": "sess-1",
		"user_id": "user-1",
		"experiment_id": "exp-1",
		"start_time": "2026-03-01T12:00:00Z",
		"end_time": "2026-03-01T12:30:00Z"
	}`)

	job, err := ParseLinkJob(body)
	if err != nil {
		t.Fatalf("ParseLinkJob error: %v", err)
	}
	if job.SessionID != "sess-1" || job.UserID != "user-1" || job.ExperimentID != "exp-1" {
		t.Errorf("unexpected identifiers: %+v", job)
	}
	if !job.EndTime.After(job.StartTime) {
		t.Error("window not preserved")
	}
}

func TestParseLinkJobPoison(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"not json", `{"session_id":`, ErrBadLinkJob},
		{"missing experiment", `{"session_id":"s","user_id":"u","start_time":"2026-03-01T12:00:00Z","end_time":"2026-03-01T13:00:00Z"}`, ErrBadLinkJob},
		{"missing times", `{"session_id":"s","user_id":"u","experiment_id":"e"}`, ErrBadLinkJob},
		{"inverted window", `{"session_id":"s","user_id":"u","experiment_id":"e","start_time":"2026-03-01T13:00:00Z","end_time":"2026-03-01T12:00:00Z"}`, ErrLinkJobWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseLinkJob([]byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseLinkJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLinkJobEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	job := &LinkJob{
		SessionID:    "sess-9",
		UserID:       "user-9",
		ExperimentID: "exp-9",
		StartTime:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	body, err := job.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	parsed, err := ParseLinkJob(body)
	if err != nil {
		t.Fatalf("ParseLinkJob error: %v", err)
	}
	if *parsed != *job {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, job)
	}
}
