package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/signalx/chartlens/internal/ledger"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not available", "no persistent store configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	items, err := s.ledger.ListAnalyses(r.Context(), uid, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", uid).Msg("failed to list analyses")
		writeError(w, http.StatusInternalServerError, "Failed to load history", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"analyses": items})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not available", "no persistent store configured")
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.ledger.GetAnalysis(r.Context(), uid, id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found", "")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("analysis_id", id).Msg("failed to load analysis")
		writeError(w, http.StatusInternalServerError, "Failed to load analysis", "")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteAnalysis removes a stored analysis and refunds the credits it
// consumed in one atomic operation.
func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not available", "no persistent store configured")
		return
	}

	id := mux.Vars(r)["id"]
	refunded, err := s.ledger.DeleteAnalysis(r.Context(), uid, id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found", "")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("analysis_id", id).Msg("failed to delete analysis")
		writeError(w, http.StatusInternalServerError, "Failed to delete analysis", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"refunded": refunded,
	})
}
