package automation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
)

// Reserved keys in a persisted device_condition object.
const (
	keyType     = "type"
	keyDeviceID = "device_id"
)

type sensorThresholdJSON struct {
	Type       string   `json:"type"`
	DeviceID   string   `json:"device_id"`
	SensorType string   `json:"sensor_type"`
	Operator   Operator `json:"operator"`
	Threshold  *float64 `json:"threshold"`
}

type rangeJSON struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// EncodeCondition returns the persisted JSON form of c.
func EncodeCondition(c Condition) ([]byte, error) {
	switch cond := c.(type) {
	case SensorThreshold:
		threshold := cond.Threshold
		return json.Marshal(sensorThresholdJSON{
			Type:       ConditionSensorThreshold,
			DeviceID:   cond.DeviceID,
			SensorType: cond.SensorType,
			Operator:   cond.Operator,
			Threshold:  &threshold,
		})
	case DeviceCondition:
		obj := make(map[string]any, len(cond.Fields)+2)
		obj[keyType] = ConditionDevice
		obj[keyDeviceID] = cond.DeviceID
		for field, pred := range cond.Fields {
			if pred.Range {
				obj[field] = rangeJSON{Min: pred.Min, Max: pred.Max}
			} else {
				obj[field] = pred.Equals
			}
		}
		return json.Marshal(obj)
	case nil:
		return nil, fmt.Errorf("%w: missing", ErrInvalidCondition)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidCondition, c)
	}
}

// DecodeCondition parses the persisted JSON form of a condition.
func DecodeCondition(data []byte) (Condition, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	var kind string
	if raw, ok := fields[keyType]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("%w: type must be a string", ErrInvalidCondition)
		}
	}

	switch kind {
	case ConditionSensorThreshold:
		var st sensorThresholdJSON
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
		if st.Threshold == nil {
			return nil, fmt.Errorf("%w: threshold is required", ErrInvalidCondition)
		}
		op, err := ParseOperator(string(st.Operator))
		if err != nil {
			return nil, err
		}
		cond := SensorThreshold{
			DeviceID:   st.DeviceID,
			SensorType: st.SensorType,
			Operator:   op,
			Threshold:  *st.Threshold,
		}
		return cond, validateCondition(cond)

	case ConditionDevice:
		cond := DeviceCondition{Fields: make(map[string]FieldPredicate)}
		if raw, ok := fields[keyDeviceID]; ok {
			if err := json.Unmarshal(raw, &cond.DeviceID); err != nil {
				return nil, fmt.Errorf("%w: device_id must be a string", ErrInvalidCondition)
			}
		}
		for name, raw := range fields {
			if name == keyType || name == keyDeviceID {
				continue
			}
			pred, err := decodePredicate(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidCondition, name, err)
			}
			cond.Fields[name] = pred
		}
		return cond, validateCondition(cond)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCondition, kind)
	}
}

// decodePredicate treats a JSON object as a {min,max} range and anything
// else as an exact value.
func decodePredicate(raw json.RawMessage) (FieldPredicate, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return FieldPredicate{}, err
	}
	if _, isObject := v.(map[string]any); !isObject {
		return Exact(v), nil
	}

	var r rangeJSON
	if err := json.Unmarshal(raw, &r); err != nil {
		return FieldPredicate{}, fmt.Errorf("range bounds must be numbers: %w", err)
	}
	return Between(r.Min, r.Max), nil
}

// DecodeFieldPredicates decodes a field-to-predicate object as accepted by
// device_condition: objects are {min,max} ranges, other values exact matches.
func DecodeFieldPredicates(fields map[string]json.RawMessage) (map[string]FieldPredicate, error) {
	out := make(map[string]FieldPredicate, len(fields))
	for name, raw := range fields {
		pred, err := decodePredicate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidCondition, name, err)
		}
		out[name] = pred
	}
	return out, nil
}

type actionJSON struct {
	Type     string          `json:"type"`
	Level    string          `json:"level,omitempty"`
	Message  string          `json:"message,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Command  json.RawMessage `json:"command,omitempty"`
}

// EncodeAction returns the persisted JSON form of a.
func EncodeAction(a Action) ([]byte, error) {
	out := actionJSON{}
	switch act := a.(type) {
	case SendAlert:
		out.Type = ActionSendAlert
		out.Level = string(act.Level)
		out.Message = act.Message
	case ControlDevice:
		out.Type = ActionControlDevice
		out.DeviceID = act.DeviceID
		if act.Command != nil {
			cmd, err := json.Marshal(act.Command)
			if err != nil {
				return nil, fmt.Errorf("%w: command: %w", ErrInvalidAction, err)
			}
			out.Command = cmd
		}
	case SendNotification:
		out.Type = ActionSendNotification
		out.Message = act.Message
	case LogEvent:
		out.Type = ActionLogEvent
		out.Message = act.Message
	case nil:
		return nil, fmt.Errorf("%w: missing", ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrUnknownAction, a)
	}
	return json.Marshal(out)
}

// DecodeAction parses the persisted JSON form of an action.
func DecodeAction(data []byte) (Action, error) {
	var in actionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}

	var act Action
	switch in.Type {
	case ActionSendAlert:
		level := alert.LevelWarning
		if in.Level != "" {
			parsed, ok := alert.ParseLevel(in.Level)
			if !ok {
				return nil, fmt.Errorf("%w: unknown alert level %q", ErrInvalidAction, in.Level)
			}
			level = parsed
		}
		act = SendAlert{Level: level, Message: in.Message}

	case ActionControlDevice:
		var cmd any
		if len(in.Command) > 0 {
			if err := json.Unmarshal(in.Command, &cmd); err != nil {
				return nil, fmt.Errorf("%w: command: %w", ErrInvalidAction, err)
			}
		}
		act = ControlDevice{DeviceID: in.DeviceID, Command: cmd}

	case ActionSendNotification, actionSendTelegram:
		act = SendNotification{Message: in.Message}

	case ActionLogEvent:
		act = LogEvent{Message: in.Message}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, in.Type)
	}

	return act, validateAction(act)
}

// ruleJSON is the API representation of a Rule.
type ruleJSON struct {
	ID            string          `json:"rule_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Condition     json.RawMessage `json:"condition"`
	Action        json.RawMessage `json:"action"`
	Enabled       bool            `json:"enabled"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty"`
	TriggerCount  int64           `json:"trigger_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MarshalJSON encodes the rule with its condition and action in their
// persisted form.
func (r Rule) MarshalJSON() ([]byte, error) {
	cond, err := EncodeCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	act, err := EncodeAction(r.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Condition:     cond,
		Action:        act,
		Enabled:       r.Enabled,
		LastTriggered: r.LastTriggered,
		TriggerCount:  r.TriggerCount,
		CreatedAt:     r.CreatedAt,
	})
}

// UnmarshalJSON decodes a rule definition. Counters in the input are
// ignored; enabled defaults to true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	in := ruleJSON{Enabled: true}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cond, err := DecodeCondition(in.Condition)
	if err != nil {
		return err
	}
	act, err := DecodeAction(in.Action)
	if err != nil {
		return err
	}
	*r = Rule{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Condition:   cond,
		Action:      act,
		Enabled:     in.Enabled,
	}
	return nil
}

type taskJSON struct {
	ID        string          `json:"task_id"`
	Name      string          `json:"name"`
	Schedule  string          `json:"schedule"`
	Action    json.RawMessage `json:"action"`
	Enabled   bool            `json:"enabled"`
	LastRun   *time.Time      `json:"last_run,omitempty"`
	NextRun   *time.Time      `json:"next_run,omitempty"`
	RunCount  int64           `json:"run_count"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON encodes the task with its action in persisted form.
func (t ScheduledTask) MarshalJSON() ([]byte, error) {
	act, err := EncodeAction(t.Action)
	if err != nil {
		return nil, err
	}
	out := taskJSON{
		ID:        t.ID,
		Name:      t.Name,
		Schedule:  t.Schedule,
		Action:    act,
		Enabled:   t.Enabled,
		LastRun:   t.LastRun,
		RunCount:  t.RunCount,
		CreatedAt: t.CreatedAt,
	}
	if !t.NextRun.IsZero() {
		next := t.NextRun
		out.NextRun = &next
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a task definition. Run state in the input is
// ignored; enabled defaults to true.
func (t *ScheduledTask) UnmarshalJSON(data []byte) error {
	in := taskJSON{Enabled: true}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	act, err := DecodeAction(in.Action)
	if err != nil {
		return err
	}
	*t = ScheduledTask{
		ID:       in.ID,
		Name:     in.Name,
		Schedule: in.Schedule,
		Action:   act,
		Enabled:  in.Enabled,
	}
	return nil
}
