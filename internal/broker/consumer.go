// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/metrics"
)

// deliveryCountHeader is set by quorum queues and counts prior delivery
// attempts for the message.
const deliveryCountHeader = "x-delivery-count"

var errChannelClosed = errors.New("consumer channel closed")

// ConsumerOptions configures one work-queue consumer.
type ConsumerOptions struct {
	// Name identifies the consumer in logs and supervision output.
	Name string

	// Queue is the queue to consume from. Leave empty together with
	// BindExchange to consume from a server-named exclusive queue.
	Queue string

	// BindExchange, when set, makes the consumer declare an exclusive
	// server-named queue bound to this exchange on every connection
	// epoch. Used for fanout subscriptions whose queues must not
	// outlive the consumer.
	BindExchange string

	// Prefetch bounds unacknowledged deliveries in flight. It also sizes
	// the handler pool, so up to Prefetch handlers run concurrently.
	Prefetch int

	// MaxDeliveryAttempts dead-letters a requeued message once its
	// delivery count reaches this value. Zero disables the cap.
	MaxDeliveryAttempts int
}

// Consumer pulls deliveries from one queue and settles them according to the
// handler's decision. It implements suture.Service; on channel loss it
// returns an error and lets the supervision tree restart it, which parks on
// the broker's readiness channel until the connection is back.
type Consumer struct {
	opts    ConsumerOptions
	sup     *Supervisor
	handler Handler
	log     zerolog.Logger
}

// NewConsumer builds a consumer attached to the broker supervisor.
func NewConsumer(sup *Supervisor, opts ConsumerOptions, handler Handler) *Consumer {
	return &Consumer{
		opts:    opts,
		sup:     sup,
		handler: handler,
		log: logging.With().
			Str("component", "consumer").
			Str("consumer", opts.Name).
			Logger(),
	}
}

// String implements fmt.Stringer for supervision tree logs.
func (c *Consumer) String() string { return "consumer-" + c.opts.Name }

// Serve consumes until ctx is canceled or the channel dies.
func (c *Consumer) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.sup.Ready():
	}

	ch, err := c.sup.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return err
	}

	queue := c.opts.Queue
	if c.opts.BindExchange != "" {
		// Fanout publishes carry an empty routing key, which no DLQ
		// binding could match. Rewrite it to the exchange name so
		// dead-lettered messages land in the exchange's shared DLQ.
		q, err := ch.QueueDeclare("", false, true, true, false, amqp.Table{
			"x-dead-letter-exchange":    c.sup.cfg.DeadLetterExchange,
			"x-dead-letter-routing-key": c.opts.BindExchange,
		})
		if err != nil {
			return err
		}
		if err := ch.QueueBind(q.Name, "", c.opts.BindExchange, false, nil); err != nil {
			return err
		}
		queue = q.Name
	}

	deliveries, err := ch.Consume(queue, c.opts.Name, false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info().Str("queue", queue).Int("prefetch", c.opts.Prefetch).Msg("consuming")

	// One worker per prefetch credit. The broker stops sending once
	// Prefetch deliveries are unacked, so the pool is exactly the number
	// of handlers that can usefully run at once.
	workers := c.opts.Prefetch
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.process(ctx, d)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return errChannelClosed
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	metrics.MessagesConsumed.WithLabelValues(c.label()).Inc()

	msgCtx := logging.ContextWithNewCorrelationID(ctx)
	decision := c.handler(msgCtx, d)
	c.settle(msgCtx, d, decision)

	metrics.ObserveHandler(c.label(), start)
}

// label names the consumer in metrics: the queue when it is fixed, the
// consumer name for server-named exclusive queues.
func (c *Consumer) label() string {
	if c.opts.Queue != "" {
		return c.opts.Queue
	}
	return c.opts.Name
}

// settle acknowledges or rejects the delivery. A Requeue decision converts
// to dead-lettering once the quorum queue's delivery count reaches the
// configured cap, so transient-looking failures cannot cycle forever.
func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, decision Decision) {
	outcome := decision.String()
	var err error

	switch decision {
	case Accept:
		err = d.Ack(false)
	case Discard:
		err = d.Nack(false, false)
	case Requeue:
		if c.exhausted(d) {
			outcome = "dead_letter"
			logging.Ctx(ctx).Warn().
				Str("queue", c.label()).
				Int("max_delivery_attempts", c.opts.MaxDeliveryAttempts).
				Msg("delivery budget exhausted, dead-lettering")
			err = d.Nack(false, false)
		} else {
			err = d.Nack(false, true)
		}
	}

	if err != nil {
		// The channel is gone; the broker will redeliver the message.
		logging.Ctx(ctx).Error().Err(err).Str("outcome", outcome).Msg("failed to settle delivery")
		return
	}
	metrics.MessageOutcomes.WithLabelValues(c.label(), outcome).Inc()
}

// exhausted reports whether the delivery has used up its attempt budget.
func (c *Consumer) exhausted(d amqp.Delivery) bool {
	if c.opts.MaxDeliveryAttempts <= 0 {
		return false
	}
	count, ok := d.Headers[deliveryCountHeader].(int64)
	if !ok {
		return false
	}
	// The header counts prior attempts; the current one makes count+1.
	return count+1 >= int64(c.opts.MaxDeliveryAttempts)
}
