package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotrelay/internal/automation"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.relay.ListTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []automation.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.relay.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task automation.ScheduledTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeDecodeError(w, err)
		return
	}

	created, err := s.relay.AddScheduledTask(r.Context(), task)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("scheduled task created via API", "task_id", created.ID, "schedule", created.Schedule)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "enabled is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.relay.SetTaskEnabled(r.Context(), id, *req.Enabled); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	task, err := s.relay.GetTask(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.relay.DeleteTask(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("scheduled task deleted via API", "task_id", id)
	w.WriteHeader(http.StatusNoContent)
}
