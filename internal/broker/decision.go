// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Decision is a handler's verdict on a delivery.
type Decision int

const (
	// Accept acknowledges the message. Used both for successes and for
	// deliveries the worker deliberately ignores.
	Accept Decision = iota

	// Requeue returns the message to the queue for another attempt. Used
	// for transient failures such as an unreachable store. Once the
	// delivery budget is exhausted the message is dead-lettered instead.
	Requeue

	// Discard rejects the message without requeueing, routing it to the
	// dead-letter queue. Used for poison messages that can never succeed.
	Discard
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Requeue:
		return "requeue"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Handler processes one delivery and decides its fate. Handlers must be
// idempotent: under at-least-once delivery the same message may arrive more
// than once.
type Handler func(ctx context.Context, d amqp.Delivery) Decision
