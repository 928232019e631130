package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Query parameter bounds.
const (
	defaultAlertLimit = 10
	maxAlertLimit     = 1000
	defaultHours      = 24
	maxHours          = 24 * 365
)

// queryInt parses an integer query parameter, returning def when it is
// absent. Values outside [minValue, maxValue] are an error.
func queryInt(r *http.Request, name string, def, minValue, maxValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < minValue || n > maxValue {
		return 0, fmt.Errorf("%s must be between %d and %d", name, minValue, maxValue)
	}
	return n, nil
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
