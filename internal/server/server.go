// Package server exposes the memory bank over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opslayer/membank/internal/bank"
)

// Server is the membank HTTP API server.
type Server struct {
	bank    *bank.Bank
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over the given bank and version string.
func New(b *bank.Bank, version string) *Server {
	s := &Server{
		bank:    b,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/artifacts", s.handleStore)
		r.Get("/artifacts/{ref}", s.handleGetArtifact)
		r.Post("/artifacts/{ref}/feedback", s.handleFeedback)
		r.Get("/artifacts/{ref}/history", s.handleHistory)

		r.Get("/read", s.handleRead)

		r.Post("/gc", s.handleGC)
		r.Get("/gc/runs", s.handleGCRuns)

		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.bank.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.bank.DB.Path,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the bank's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, bank.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, bank.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, bank.ErrPolicyConflict):
		code = http.StatusConflict
	case errors.Is(err, bank.ErrConstitutionalViolation):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
