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

	"github.com/kzhang87/neuropipe/internal/config"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/metrics"
)

// ErrNotReady is returned by publish operations while the broker connection
// is down. Callers fail fast instead of queueing in memory.
var ErrNotReady = errors.New("broker connection not ready")

// connectionAPI is the slice of amqp.Connection the supervisor uses. Narrow
// so tests can substitute a fake.
type connectionAPI interface {
	Channel() (channelAPI, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// channelAPI is the slice of amqp.Channel used for topology, publishing and
// consuming.
type channelAPI interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (connectionAPI, error)

// amqpConnection adapts *amqp.Connection to connectionAPI.
type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (channelAPI, error) {
	return c.Connection.Channel()
}

func amqpDial(url string) (connectionAPI, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

// Supervisor owns the AMQP connection. It implements suture.Service and is
// meant to run under the process supervision tree.
type Supervisor struct {
	cfg config.BrokerConfig
	log zerolog.Logger

	dial dialFunc

	mu    sync.RWMutex
	conn  connectionAPI
	pubCh channelAPI
	ready chan struct{}
}

// NewSupervisor builds a broker supervisor for the given configuration. The
// connection is not dialed until Serve runs.
func NewSupervisor(cfg config.BrokerConfig) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		log:   logging.With().Str("component", "broker").Logger(),
		dial:  amqpDial,
		ready: make(chan struct{}),
	}
}

// String implements fmt.Stringer for supervision tree logs.
func (s *Supervisor) String() string { return "broker-supervisor" }

// Ready returns a channel that is closed while the broker connection is up
// and its topology declared. After a connection drop, callers must re-fetch
// the channel to observe the next epoch.
func (s *Supervisor) Ready() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsReady reports whether the connection is currently usable.
func (s *Supervisor) IsReady() bool {
	select {
	case <-s.Ready():
		return true
	default:
		return false
	}
}

// Serve dials the broker and keeps the connection alive until ctx is
// canceled. Dial failures back off exponentially without an attempt limit;
// an asynchronous connection drop redials after a short fixed delay.
func (s *Supervisor) Serve(ctx context.Context) error {
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			return err
		}

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case amqpErr := <-closed:
			s.teardown()
			metrics.BrokerReconnects.Inc()
			s.log.Warn().
				AnErr("cause", amqpErr).
				Dur("redial_delay", s.cfg.RedialDelay).
				Msg("broker connection lost, redialing")
			if err := sleepCtx(ctx, s.cfg.RedialDelay); err != nil {
				return err
			}
		}
	}
}

// connect dials until a connection with declared topology is established,
// backing off between attempts. Only context cancelation makes it give up.
func (s *Supervisor) connect(ctx context.Context) (connectionAPI, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt, s.cfg.ReconnectInitial, s.cfg.ReconnectMax)
			s.log.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying broker connection")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		conn, err := s.dial(s.cfg.URL)
		if err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("broker dial failed")
			continue
		}

		ch, err := conn.Channel()
		if err == nil {
			err = s.declareTopology(ch)
		}
		if err != nil {
			s.log.Error().Err(err).Msg("broker topology declaration failed")
			_ = conn.Close()
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.pubCh = ch
		close(s.ready)
		s.mu.Unlock()

		metrics.BrokerReady.Set(1)
		s.log.Info().
			Str("raw_data_exchange", s.cfg.RawDataExchange).
			Str("dead_letter_exchange", s.cfg.DeadLetterExchange).
			Msg("broker connection established")
		return conn, nil
	}
}

// declareTopology declares every exchange and queue the pipeline uses.
// Declarations are idempotent, so redeclaring on each connect is safe.
func (s *Supervisor) declareTopology(ch channelAPI) error {
	if err := ch.ExchangeDeclare(s.cfg.RawDataExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(s.cfg.DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	for _, queue := range []string{s.cfg.MediaQueue, s.cfg.LinkQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-queue-type":           "quorum",
			"x-dead-letter-exchange": s.cfg.DeadLetterExchange,
		}); err != nil {
			return err
		}
		dlq := queue + ".dlq"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp.Table{
			"x-queue-type": "quorum",
		}); err != nil {
			return err
		}
		// Dead-lettered messages keep their original routing key, which
		// for queue-published messages is the queue name.
		if err := ch.QueueBind(dlq, queue, s.cfg.DeadLetterExchange, false, nil); err != nil {
			return err
		}
	}

	// Raw consumers declare their own exclusive queues, but those queues
	// dead-letter here with the routing key rewritten to the exchange name.
	rawDLQ := s.cfg.RawDataExchange + ".dlq"
	if _, err := ch.QueueDeclare(rawDLQ, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return err
	}
	if err := ch.QueueBind(rawDLQ, s.cfg.RawDataExchange, s.cfg.DeadLetterExchange, false, nil); err != nil {
		return err
	}
	return nil
}

// teardown drops the current connection state and resets readiness.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.pubCh = nil
	s.ready = make(chan struct{})
	s.mu.Unlock()
	metrics.BrokerReady.Set(0)
}

// channel opens a fresh channel on the current connection. Consumers call
// this per connection epoch; publishing shares the supervisor's own channel.
func (s *Supervisor) channel() (channelAPI, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotReady
	}
	return conn.Channel()
}

// computeBackoff returns the delay before the dial that follows `failures`
// consecutive failures: initial * 2^failures, capped at max.
func computeBackoff(failures int, initial, max time.Duration) time.Duration {
	if failures < 1 {
		return 0
	}
	delay := initial
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
