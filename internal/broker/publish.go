// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kzhang87/neuropipe/internal/metrics"
)

// PublishSensorData fans a raw sensor payload out to every bound consumer.
// Returns ErrNotReady while the connection is down.
func (s *Supervisor) PublishSensorData(ctx context.Context, headers amqp.Table, contentType string, body []byte) error {
	return s.publish(ctx, s.cfg.RawDataExchange, "", headers, contentType, body)
}

// PublishMediaJob enqueues a media persistence job on the media work queue.
func (s *Supervisor) PublishMediaJob(ctx context.Context, headers amqp.Table, contentType string, body []byte) error {
	return s.publish(ctx, "", s.cfg.MediaQueue, headers, contentType, body)
}

// PublishLinkJob enqueues a session linking job on the linking work queue.
func (s *Supervisor) PublishLinkJob(ctx context.Context, body []byte) error {
	return s.publish(ctx, "", s.cfg.LinkQueue, nil, "application/json", body)
}

func (s *Supervisor) publish(ctx context.Context, exchange, key string, headers amqp.Table, contentType string, body []byte) error {
	destination := exchange
	if destination == "" {
		destination = key
	}

	s.mu.RLock()
	ch := s.pubCh
	ready := s.ready
	s.mu.RUnlock()

	select {
	case <-ready:
	default:
		metrics.BrokerPublishes.WithLabelValues(destination, "not_ready").Inc()
		return ErrNotReady
	}

	err := ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		metrics.BrokerPublishes.WithLabelValues(destination, "error").Inc()
		return err
	}
	metrics.BrokerPublishes.WithLabelValues(destination, "ok").Inc()
	return nil
}
