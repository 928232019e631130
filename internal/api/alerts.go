package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleRecentAlerts returns the newest in-memory alerts, oldest first.
func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAlertLimit, 1, maxAlertLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	alerts := s.relay.GetRecentAlerts(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleAlertHistory returns stored alerts, newest first.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultHours, 1, maxHours)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0, 1, maxAlertLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	alerts, err := s.relay.AlertHistory(r.Context(), hours, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
		"hours":  hours,
	})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
