// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package broker

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func TestSettle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		decision      Decision
		deliveryCount int64
		maxAttempts   int
		wantAck       bool
		wantNack      bool
		wantRequeue   bool
	}{
		{"accept acks", Accept, 0, 10, true, false, false},
		{"discard dead-letters", Discard, 0, 10, false, true, false},
		{"requeue within budget", Requeue, 3, 10, false, true, true},
		{"requeue at budget dead-letters", Requeue, 9, 10, false, true, false},
		{"requeue past budget dead-letters", Requeue, 12, 10, false, true, false},
		{"requeue without cap never dead-letters", Requeue, 50, 0, false, true, true},
		{"requeue without count header requeues", Requeue, -1, 10, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewConsumer(nil, ConsumerOptions{
				Name:                "test",
				Queue:               "q",
				MaxDeliveryAttempts: tt.maxAttempts,
			}, nil)

			ack := &fakeAcknowledger{}
			d := amqp.Delivery{Acknowledger: ack, Headers: amqp.Table{}}
			if tt.deliveryCount >= 0 {
				d.Headers[deliveryCountHeader] = tt.deliveryCount
			}

			c.settle(context.Background(), d, tt.decision)

			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if ack.nacked != tt.wantNack {
				t.Errorf("nacked = %v, want %v", ack.nacked, tt.wantNack)
			}
			if ack.nacked && ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestConsumerBindsExclusiveQueue(t *testing.T) {
	t.Parallel()

	conn := newFakeConnection()
	s := NewSupervisor(testBrokerConfig())
	s.dial = func(url string) (connectionAPI, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}

	c := NewConsumer(s, ConsumerOptions{
		Name:         "raw",
		BindExchange: "raw_data_exchange",
		Prefetch:     5,
	}, func(ctx context.Context, d amqp.Delivery) Decision { return Accept })

	// The fake deliveries channel is closed, so Serve returns promptly
	// after declaring and binding the exclusive queue.
	if err := c.Serve(ctx); err != errChannelClosed {
		t.Fatalf("Serve() error = %v, want errChannelClosed", err)
	}

	conn.ch.mu.Lock()
	defer conn.ch.mu.Unlock()
	foundBind := false
	for _, b := range conn.ch.binds {
		if b == "amq.gen-test->raw_data_exchange:" {
			foundBind = true
		}
	}
	if !foundBind {
		t.Errorf("exclusive queue was not bound to the fanout exchange, binds = %v", conn.ch.binds)
	}

	// Rejected deliveries from the exclusive queue must dead-letter into
	// the exchange's DLQ, not vanish.
	args := conn.ch.queueArgs["amq.gen-test"]
	if args["x-dead-letter-exchange"] != "neuropipe.dlx" {
		t.Errorf("x-dead-letter-exchange = %v, want neuropipe.dlx", args["x-dead-letter-exchange"])
	}
	if args["x-dead-letter-routing-key"] != "raw_data_exchange" {
		t.Errorf("x-dead-letter-routing-key = %v, want raw_data_exchange", args["x-dead-letter-routing-key"])
	}

	cancel()
	<-done
}

func TestConsumerRunsHandlersConcurrently(t *testing.T) {
	t.Parallel()

	const prefetch = 5

	conn := newFakeConnection()
	deliveries := make(chan amqp.Delivery, prefetch)
	for i := 0; i < prefetch; i++ {
		deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Headers: amqp.Table{}}
	}
	close(deliveries)
	conn.ch.deliveries = deliveries

	s := NewSupervisor(testBrokerConfig())
	s.dial = func(url string) (connectionAPI, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	supDone := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(supDone)
	}()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}

	started := make(chan struct{}, prefetch)
	gate := make(chan struct{})
	c := NewConsumer(s, ConsumerOptions{
		Name:     "media",
		Queue:    "media_processing_queue",
		Prefetch: prefetch,
	}, func(ctx context.Context, d amqp.Delivery) Decision {
		started <- struct{}{}
		<-gate
		return Accept
	})

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	// With every handler blocked on the gate, all queued deliveries must
	// reach a handler before any of them settles.
	for i := 0; i < prefetch; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d handlers in flight with prefetch %d", i, prefetch, prefetch)
		}
	}
	close(gate)

	if err := <-done; err != errChannelClosed {
		t.Fatalf("Serve() error = %v, want errChannelClosed", err)
	}

	cancel()
	<-supDone
}
