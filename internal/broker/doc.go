// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package broker owns the AMQP connection lifecycle and message topology.
//
// A single Supervisor maintains one long-lived connection. It dials with
// unbounded exponential backoff, declares the full topology on every
// successful connect, and broadcasts readiness through a closed channel so
// that publishers can fail fast and consumers can park until the broker is
// back. When the broker drops the connection asynchronously the supervisor
// waits a short fixed delay and redials.
//
// Work queues are quorum queues dead-lettered into a shared direct exchange;
// each queue gets a companion "<queue>.dlq" bound by the queue name. Poison
// messages and messages that exhaust their delivery budget end up there
// instead of cycling forever.
package broker
