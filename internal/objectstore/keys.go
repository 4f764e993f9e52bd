// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package objectstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaKey derives the deterministic object key for a media upload:
// media/{user}/{session}/{epoch_millis}_{original filename}.zst. Determinism
// makes retried uploads overwrite their earlier attempt instead of
// accumulating duplicates.
func MediaKey(userID, sessionID string, at time.Time, originalFilename string) string {
	name := path.Base(originalFilename)
	return fmt.Sprintf("media/%s/%s/%d_%s.zst", userID, sessionID, at.UnixMilli(), name)
}

// RawKey derives the object key for a raw sensor recording:
// eeg/{user}/{start_ms}-{end_ms}_{device}_{suffix}.zst. Colons are stripped
// from the device identifier (MAC addresses carry them) and a random suffix
// keeps concurrent chunks from the same device and window apart.
func RawKey(userID string, start, end time.Time, deviceID string) string {
	device := strings.ReplaceAll(deviceID, ":", "")
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("eeg/%s/%d-%d_%s_%s.zst", userID, start.UnixMilli(), end.UnixMilli(), device, suffix)
}
