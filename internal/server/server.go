// Package server exposes the HTTP surface of the sync service: webhook
// endpoints that trigger a reconciliation run in either direction, the
// audit record listing and a health probe.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/leader"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/processor"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Syncer triggers reconciliation runs.
type Syncer interface {
	SyncKeysToILoq(ctx context.Context) (*recon.Result, error)
	SyncKeysToEfecte(ctx context.Context) (*recon.Result, error)
}

// Auditor lists the durable audit records.
type Auditor interface {
	Records(ctx context.Context) ([]processor.AuditRecord, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server settings. The write timeout is
// generous because a webhook-triggered run completes inside the request.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
}

// Server is the HTTP frontend of the sync service.
type Server struct {
	syncer Syncer
	audit  Auditor
	gate   leader.Gate
	http   *http.Server
}

// New creates the server and its routes. The sync endpoints are gated so a
// webhook landing on a standby replica cannot start a competing run.
func New(cfg Config, syncer Syncer, audit Auditor, gate leader.Gate) *Server {
	s := &Server{syncer: syncer, audit: audit, gate: gate}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/iloq", s.handleSync(s.syncer.SyncKeysToILoq))
		r.Post("/sync/efecte", s.handleSync(s.syncer.SyncKeysToEfecte))
		r.Get("/audit/records", s.handleAuditRecords)
	})

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleSync runs one sync direction synchronously and returns its result.
func (s *Server) handleSync(run func(context.Context) (*recon.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		isLeader, err := s.gate.IsLeader(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !isLeader {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "not the leader replica"})
			return
		}

		result, err := run(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("Webhook-triggered run failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleAuditRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.Records(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
