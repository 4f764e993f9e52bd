// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

/*
Package models defines the domain data structures shared across Neuropipe.

It is the single source of truth for the shapes persisted in the metadata
store and carried in queue messages:

  - Session: a recording session with its link-status state machine
  - Experiment, Event: experiment metadata and per-session event markers
  - RawDataObject: a stored raw sensor payload (read-only input to linking)
  - ImageObject, AudioClipObject: media metadata rows written by the media
    persistence worker
  - Overlaps: the canonical half-open interval-overlap predicate used by the
    session-linking join

Models carry no behavior beyond validation and state-machine checks; all
persistence lives in internal/database.
*/
package models
