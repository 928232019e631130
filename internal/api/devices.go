package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotrelay/internal/presence"
)

// commandRequest is the body of POST /devices/{id}/commands. Command is
// either an action name or an object merged into the published payload.
type commandRequest struct {
	Command any `json:"command"`
}

// sortedDevices returns the map's devices ordered by ID.
func sortedDevices(m map[string]presence.DeviceState) []presence.DeviceState {
	out := make([]presence.DeviceState, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := sortedDevices(s.relay.GetAllDevices())
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleListOnlineDevices lists devices seen within ?ttl= seconds, or the
// configured presence window.
func (s *Server) handleListOnlineDevices(w http.ResponseWriter, r *http.Request) {
	const maxTTLSeconds = 7 * 24 * 3600
	ttlSeconds, err := queryInt(r, "ttl", 0, 1, maxTTLSeconds)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ttl := s.relay.PresenceTTL()
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}

	devices := sortedDevices(s.relay.GetOnlineDevices(ttl))
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     devices,
		"count":       len(devices),
		"ttl_seconds": int(ttl.Seconds()),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	device, ok := s.relay.GetDevice(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Command == nil {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.relay.PublishCommand(r.Context(), id, req.Command); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("command sent via API", "device_id", id, "subject", claims.Subject)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "sent",
		"device_id": id,
	})
}

func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sensor := r.URL.Query().Get("sensor")
	if sensor == "" {
		writeBadRequest(w, "sensor is required")
		return
	}
	hours, err := queryInt(r, "hours", defaultHours, 1, maxHours)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	points, err := s.relay.SensorHistory(r.Context(), id, sensor, hours)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":   id,
		"sensor_type": sensor,
		"hours":       hours,
		"points":      points,
		"count":       len(points),
	})
}

func (s *Server) handleDeviceUptime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hours, err := queryInt(r, "hours", defaultHours, 1, maxHours)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pct, err := s.relay.DeviceUptime(r.Context(), id, hours)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":      id,
		"hours":          hours,
		"uptime_percent": pct,
	})
}
