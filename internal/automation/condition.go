package automation

import (
	"fmt"
	"reflect"

	"github.com/nerrad567/iotrelay/internal/telemetry"
)

// Condition decides whether a reading from a device matches a rule.
//
// The set of implementations is closed: SensorThreshold and DeviceCondition.
type Condition interface {
	// Match reports whether the reading from deviceID satisfies the
	// condition. Missing or non-numeric values never match and never panic.
	Match(deviceID string, reading map[string]any) bool

	// ConditionType returns the persisted type tag.
	ConditionType() string

	isCondition()
}

// Condition type tags.
const (
	ConditionSensorThreshold = "sensor_threshold"
	ConditionDevice          = "device_condition"
)

// Operator compares a reading value against a threshold.
type Operator string

// Supported operators.
const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

var operatorNames = map[Operator]string{
	OpGreater:      "gt",
	OpLess:         "lt",
	OpGreaterEqual: "ge",
	OpLessEqual:    "le",
	OpEqual:        "eq",
}

// ParseOperator validates an operator string. The short names gt, lt, ge,
// le and eq are accepted as well.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if _, ok := operatorNames[op]; ok {
		return op, nil
	}
	for candidate, name := range operatorNames {
		if s == name {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// Name returns the operator's short name, used in rule IDs.
func (o Operator) Name() string {
	return operatorNames[o]
}

// Compare applies the operator to value and threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// SensorThreshold matches when a device's sensor value crosses a threshold.
type SensorThreshold struct {
	DeviceID   string
	SensorType string
	Operator   Operator
	Threshold  float64
}

// Match implements Condition.
func (c SensorThreshold) Match(deviceID string, reading map[string]any) bool {
	if c.DeviceID != deviceID {
		return false
	}
	raw, ok := reading[c.SensorType]
	if !ok {
		return false
	}
	value, ok := telemetry.Float(raw)
	if !ok {
		return false
	}
	return c.Operator.Compare(value, c.Threshold)
}

// ConditionType implements Condition.
func (SensorThreshold) ConditionType() string { return ConditionSensorThreshold }

func (SensorThreshold) isCondition() {}

// FieldPredicate is either an exact match or a numeric range.
type FieldPredicate struct {
	// Equals is compared against the field when Range is false.
	Equals any

	// Range enables Min/Max; either bound may be nil.
	Range bool
	Min   *float64
	Max   *float64
}

// Exact returns a predicate matching v exactly.
func Exact(v any) FieldPredicate {
	return FieldPredicate{Equals: v}
}

// Between returns a range predicate. Pass nil for an open bound.
func Between(minValue, maxValue *float64) FieldPredicate {
	return FieldPredicate{Range: true, Min: minValue, Max: maxValue}
}

// Holds reports whether v satisfies the predicate.
func (p FieldPredicate) Holds(v any) bool {
	if p.Range {
		f, ok := telemetry.Float(v)
		if !ok {
			return false
		}
		if p.Min != nil && f < *p.Min {
			return false
		}
		if p.Max != nil && f > *p.Max {
			return false
		}
		return true
	}

	// Numbers compare by value so 1 and 1.0 match.
	if want, ok := telemetry.Float(p.Equals); ok {
		got, ok := telemetry.Float(v)
		return ok && got == want
	}
	return reflect.DeepEqual(p.Equals, v)
}

// DeviceCondition matches when every field predicate holds for a device's
// reading.
type DeviceCondition struct {
	DeviceID string
	Fields   map[string]FieldPredicate
}

// Match implements Condition.
func (c DeviceCondition) Match(deviceID string, reading map[string]any) bool {
	if c.DeviceID != deviceID {
		return false
	}
	for field, pred := range c.Fields {
		v, ok := reading[field]
		if !ok {
			return false
		}
		if !pred.Holds(v) {
			return false
		}
	}
	return true
}

// ConditionType implements Condition.
func (DeviceCondition) ConditionType() string { return ConditionDevice }

func (DeviceCondition) isCondition() {}
