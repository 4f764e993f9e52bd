// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

/*
Package jobs defines the queue message contracts between the ingress layer
and the pipeline workers.

Every message is parsed exactly once at the consumer boundary into a strict,
validated struct; nothing downstream of a worker handler ever touches raw
headers or raw JSON. A message that fails schema validation can never become
valid on redelivery, so parse failures are poison by definition.

Two envelopes exist:

  - Media job: binary body (zstd-compressed payload) plus AMQP headers
    carrying user, session, mimetype, original filename, and the
    mimetype-specific timestamps (single instant for images, a start/end pair
    for audio).
  - Link job: persistent JSON body carrying the finalized session's identity
    and time window.
*/
package jobs
