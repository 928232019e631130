package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/iotrelay/internal/automation"
	"github.com/nerrad567/iotrelay/internal/bridge"
	"github.com/nerrad567/iotrelay/internal/command"
	"github.com/nerrad567/iotrelay/internal/history"
	"github.com/nerrad567/iotrelay/internal/relay"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeDeviceOffline = "device_offline"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps an error from the relay facade to a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrUnknownDevice):
		writeNotFound(w, err.Error())
	case errors.Is(err, command.ErrDeviceOffline):
		writeError(w, http.StatusConflict, ErrCodeDeviceOffline, err.Error())
	case errors.Is(err, command.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, command.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	case errors.Is(err, automation.ErrRuleNotFound),
		errors.Is(err, automation.ErrTaskNotFound),
		errors.Is(err, history.ErrAlertNotFound):
		writeNotFound(w, err.Error())

	case errors.Is(err, automation.ErrInvalidRule),
		errors.Is(err, automation.ErrInvalidCondition),
		errors.Is(err, automation.ErrInvalidOperator),
		errors.Is(err, automation.ErrInvalidAction),
		errors.Is(err, automation.ErrUnknownAction),
		errors.Is(err, automation.ErrInvalidTask),
		errors.Is(err, automation.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	case errors.Is(err, bridge.ErrClosed),
		errors.Is(err, relay.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "automation engine is not running")
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request timed out")

	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
