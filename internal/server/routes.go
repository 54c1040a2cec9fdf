package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/modinired/cesar-brain/internal/brain"
	"github.com/modinired/cesar-brain/internal/store"
)

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}

	maxNeighbors := s.maxNeighbors
	if raw := r.URL.Query().Get("max_neighbors"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max_neighbors")
			return
		}
		maxNeighbors = n
	}

	bctx, err := s.brain.Retriever.GetBrainContext(r.Context(), query, maxNeighbors)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bctx)
}

// handleListNodes is the dashboard's bulk read: heaviest nodes by
// default, or the coldest (least recently used) when order=coldest.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var nodes []store.Node
	var err error
	switch order := r.URL.Query().Get("order"); order {
	case "", "mass":
		nodes, err = s.db.Q().ListByMassDesc(r.Context(), limit)
	case "coldest":
		nodes, err = s.db.Q().ListByLastAccessedAsc(r.Context(), limit)
	default:
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actions     []brain.Action `json:"actions"`
		TriggeredBy string         `json:"triggered_by"`
		SessionID   string         `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "actions required")
		return
	}

	// Batches are action-level atomic; the response always carries
	// per-action outcomes so the caller can tell which actions took
	// effect.
	outcomes := s.brain.Engine.Apply(r.Context(), req.Actions, brain.Caller{
		TriggeredBy: req.TriggeredBy,
		SessionID:   req.SessionID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"results": outcomes})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.brain.Stats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.db.Q().ListMutations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.db.Q().ListFields(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

// handleUpsertField is the dashboard's write path for layout
// attractors. Force fields carry no graph semantics, so they bypass
// the mutation vocabulary.
func (s *Server) handleUpsertField(w http.ResponseWriter, r *http.Request) {
	var f store.ForceField
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if f.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	if err := s.db.Q().UpsertField(r.Context(), &f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleDecay is the cron collaborator's trigger for a decay pass.
func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	report, err := s.brain.Scheduler.Run(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Profile == "" {
		writeError(w, http.StatusBadRequest, "profile required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := s.brain.Exporter.Run(r.Context(), req.Profile, w); err != nil {
		// Headers are already sent; all we can do is log via the
		// exporter and stop the stream.
		return
	}
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, brain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, brain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, brain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, brain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
