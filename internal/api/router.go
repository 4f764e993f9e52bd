// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package api serves the pipeline's operational HTTP surface: liveness,
// readiness and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kzhang87/neuropipe/internal/logging"
)

// BrokerReadiness reports whether the AMQP connection is up.
type BrokerReadiness interface {
	IsReady() bool
}

// DatabasePinger verifies database reachability.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// Router builds the operational HTTP handler.
type Router struct {
	broker BrokerReadiness
	db     DatabasePinger
}

// NewRouter creates a router over the given readiness sources.
func NewRouter(broker BrokerReadiness, db DatabasePinger) *Router {
	return &Router{broker: broker, db: db}
}

// Handler assembles the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", rt.handleHealth)
	r.Get("/readyz", rt.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth is pure liveness: the process is up and serving.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReady reports 503 until both the broker connection and the database
// are usable, so orchestrators hold traffic during broker outages.
func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"broker": "ok", "database": "ok"}
	ready := true

	if !rt.broker.IsReady() {
		checks["broker"] = "not connected"
		ready = false
	}
	if err := rt.db.Ping(r.Context()); err != nil {
		checks["database"] = err.Error()
		ready = false
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
