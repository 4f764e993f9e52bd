// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package main is the entry point for the neuropipe worker process.
//
// Neuropipe consumes recording data from RabbitMQ and persists it durably:
// raw sensor payloads fanned out on an exchange, media files queued by the
// collector, and session linking jobs emitted when a recording session ends.
// Payloads land in S3-compatible object storage; metadata and session links
// land in PostgreSQL.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: layered defaults, config file and environment (Koanf v2)
//  2. Object store: MinIO client, bucket creation
//  3. Database: pgx connection pool
//  4. Supervisor tree: broker connection, consumers, HTTP server
//
// All long-running work happens under the suture supervision tree. The
// broker layer owns the AMQP connection and redials it forever; the worker
// layer runs one consumer per queue; the API layer serves /healthz, /readyz
// and /metrics.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (BROKER_URL, DATABASE_URL, OBJECTSTORE_ENDPOINT, ...)
//   - Config file (config.yaml or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The process shuts down gracefully on SIGINT and SIGTERM: consumers stop
// taking deliveries, in-flight messages settle, and the broker connection
// closes within the supervisor's shutdown timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kzhang87/neuropipe/internal/api"
	"github.com/kzhang87/neuropipe/internal/broker"
	"github.com/kzhang87/neuropipe/internal/config"
	"github.com/kzhang87/neuropipe/internal/database"
	"github.com/kzhang87/neuropipe/internal/linkworker"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/mediaworker"
	"github.com/kzhang87/neuropipe/internal/objectstore"
	"github.com/kzhang87/neuropipe/internal/rawworker"
	"github.com/kzhang87/neuropipe/internal/supervisor"
	"github.com/kzhang87/neuropipe/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("config", cfg.String()).Msg("Starting neuropipe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Object store first: bucket creation is a startup precondition for
	// every worker.
	store, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create object store client")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure bucket")
	}
	logging.Info().Str("bucket", cfg.ObjectStore.Bucket).Msg("Object store ready")

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	logging.Info().Msg("Database connection established")

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})

	brokerSup := broker.NewSupervisor(cfg.Broker)
	tree.AddBrokerService(brokerSup)

	tree.AddWorkerService(broker.NewConsumer(brokerSup, broker.ConsumerOptions{
		Name:         "raw",
		BindExchange: cfg.Broker.RawDataExchange,
		Prefetch:     cfg.Workers.RawPrefetch,
	}, rawworker.New(store, db).Handle))

	tree.AddWorkerService(broker.NewConsumer(brokerSup, broker.ConsumerOptions{
		Name:                "media",
		Queue:               cfg.Broker.MediaQueue,
		Prefetch:            cfg.Workers.MediaPrefetch,
		MaxDeliveryAttempts: cfg.Broker.MaxDeliveryAttempts,
	}, mediaworker.New(store, db).Handle))

	tree.AddWorkerService(broker.NewConsumer(brokerSup, broker.ConsumerOptions{
		Name:                "link",
		Queue:               cfg.Broker.LinkQueue,
		Prefetch:            cfg.Workers.LinkPrefetch,
		MaxDeliveryAttempts: cfg.Broker.MaxDeliveryAttempts,
	}, linkworker.New(db).Handle))

	router := api.NewRouter(brokerSup, db)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor shutdown error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Shutdown complete")
}
