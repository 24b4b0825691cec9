/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes scheduler diagnostics and a live notification feed
// over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fxline/internal/logbuffer"
	"github.com/friendsincode/fxline/internal/scheduler"
	"github.com/friendsincode/fxline/internal/telemetry"
	"github.com/friendsincode/fxline/internal/version"
)

// Server bundles the router and the scheduler it reports on.
type Server struct {
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	scheduler *scheduler.Service
	metrics   *telemetry.Metrics
	logBuffer *logbuffer.Buffer
}

// New constructs the server and its routes. metrics and logBuf may be nil, in
// which case /metrics and /logs are not mounted.
func New(addr string, svc *scheduler.Service, metrics *telemetry.Metrics, logBuf *logbuffer.Buffer, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		logger:    logger.With().Str("component", "http").Logger(),
		router:    router,
		scheduler: svc,
		metrics:   metrics,
		logBuffer: logBuf,
	}
	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout set to 0 so the websocket feed is not cut off
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Version,
			"running": s.scheduler.IsRunning(),
		})
	})

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/snapshot", s.handleSnapshot)
	s.router.Get("/ws", s.handleEvents)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
	if s.logBuffer != nil {
		s.router.Get("/logs", s.handleLogs)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":          s.scheduler.Snapshot(),
		"snapshot_withheld": s.scheduler.Status().Withheld,
	})
}

// handleLogs returns recent log entries, newest first. Query parameters:
// level, component, batch_id, search and limit (default 100).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries := s.logBuffer.Query(logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		BatchID:    q.Get("batch_id"),
		Search:     q.Get("search"),
		Limit:      limit,
		Descending: true,
	})
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   s.logBuffer.Len(),
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
