// Package server exposes the brain engine over HTTP for the fleet's
// external collaborators: agents, the job-queue worker, and the
// dashboard.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/modinired/cesar-brain/internal/brain"
	"github.com/modinired/cesar-brain/internal/store"
)

// Server is the brain HTTP API server.
type Server struct {
	db           *store.DB
	brain        *brain.Brain
	router       chi.Router
	maxNeighbors int
	version      string
	started      time.Time
}

// New creates a new Server.
func New(db *store.DB, b *brain.Brain, maxNeighbors int, version string) *Server {
	if maxNeighbors <= 0 {
		maxNeighbors = 10
	}
	s := &Server{
		db:           db,
		brain:        b,
		maxNeighbors: maxNeighbors,
		version:      version,
		started:      time.Now(),
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

		r.Route("/brain", func(r chi.Router) {
			r.Get("/context", s.handleGetContext)
			r.Get("/nodes", s.handleListNodes)
			r.Post("/mutate", s.handleMutate)
			r.Get("/stats", s.handleStats)
			r.Get("/log", s.handleLog)
			r.Get("/fields", s.handleListFields)
			r.Put("/fields", s.handleUpsertField)
			r.Post("/decay", s.handleDecay)
			r.Post("/export", s.handleExport)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
