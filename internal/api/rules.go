package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/automation"
)

// thresholdRuleRequest is the body of POST /rules/threshold.
type thresholdRuleRequest struct {
	DeviceID   string   `json:"device_id"`
	SensorType string   `json:"sensor_type"`
	Threshold  *float64 `json:"threshold"`
	Operator   string   `json:"operator"`
	AlertLevel string   `json:"alert_level"`
}

// controlRuleRequest is the body of POST /rules/device-control.
type controlRuleRequest struct {
	TriggerDevice string                     `json:"trigger_device"`
	Condition     map[string]json.RawMessage `json:"condition"`
	TargetDevice  string                     `json:"target_device"`
	Command       any                        `json:"command"`
}

// enabledRequest is the body of PATCH /rules/{id} and /tasks/{id}.
type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.relay.ListRules(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []automation.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.relay.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule adds or replaces a rule from its full definition.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeDecodeError(w, err)
		return
	}

	created, err := s.relay.AddRule(r.Context(), rule)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("rule created via API", "rule_id", created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateThresholdRule(w http.ResponseWriter, r *http.Request) {
	var req thresholdRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.DeviceID == "" || req.SensorType == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "device_id and sensor_type are required")
		return
	}
	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "threshold is required")
		return
	}

	op := automation.OpGreater
	if req.Operator != "" {
		var err error
		if op, err = automation.ParseOperator(req.Operator); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
	}
	level := alert.LevelWarning
	if req.AlertLevel != "" {
		var ok bool
		if level, ok = alert.ParseLevel(req.AlertLevel); !ok {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown alert_level: "+req.AlertLevel)
			return
		}
	}

	id, err := s.relay.CreateThresholdRule(r.Context(), req.DeviceID, req.SensorType, *req.Threshold, op, level)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("threshold rule created via API", "rule_id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": id})
}

func (s *Server) handleCreateDeviceControlRule(w http.ResponseWriter, r *http.Request) {
	var req controlRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.TriggerDevice == "" || req.TargetDevice == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "trigger_device and target_device are required")
		return
	}
	if req.Command == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return
	}

	fields, err := automation.DecodeFieldPredicates(req.Condition)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	id, err := s.relay.CreateDeviceControlRule(r.Context(), req.TriggerDevice, fields, req.TargetDevice, req.Command)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("device control rule created via API", "rule_id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": id})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
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
	if err := s.relay.SetRuleEnabled(r.Context(), id, *req.Enabled); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rule, err := s.relay.GetRule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.relay.DeleteRule(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("rule deleted via API", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// writeDecodeError reports a body that failed to decode into a rule or task.
// Rejections from the automation codec are validation errors; anything else
// is a malformed body.
func writeDecodeError(w http.ResponseWriter, err error) {
	for _, target := range []error{
		automation.ErrInvalidCondition,
		automation.ErrInvalidOperator,
		automation.ErrInvalidAction,
		automation.ErrUnknownAction,
	} {
		if errors.Is(err, target) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
	}
	writeBadRequest(w, "invalid JSON body: "+err.Error())
}
