package automation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxIDLength       = 200
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxMessageLength  = 1000
	maxFieldPreds     = 20
	idPattern         = `^[^\s/]+$`
)

var idRegex = regexp.MustCompile(idPattern)

// ValidateRule checks a rule definition before it is stored.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}
	if err := validateID(r.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if err := validateName(r.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if len(r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}
	if err := validateCondition(r.Condition); err != nil {
		return err
	}
	return validateAction(r.Action)
}

// ValidateTask checks a task definition. The schedule is checked separately
// by the Scheduler's cron parser.
func ValidateTask(t *ScheduledTask) error {
	if t == nil {
		return ErrInvalidTask
	}
	if err := validateID(t.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if err := validateName(t.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if strings.TrimSpace(t.Schedule) == "" {
		return fmt.Errorf("%w: schedule is required", ErrInvalidSchedule)
	}
	return validateAction(t.Action)
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("id exceeds %d characters", maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

func validateCondition(c Condition) error {
	switch cond := c.(type) {
	case SensorThreshold:
		if cond.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidCondition)
		}
		if cond.SensorType == "" {
			return fmt.Errorf("%w: sensor_type is required", ErrInvalidCondition)
		}
		if cond.Operator.Name() == "" {
			return fmt.Errorf("%w: %q", ErrInvalidOperator, cond.Operator)
		}
		if math.IsNaN(cond.Threshold) || math.IsInf(cond.Threshold, 0) {
			return fmt.Errorf("%w: threshold must be finite", ErrInvalidCondition)
		}
	case DeviceCondition:
		if cond.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidCondition)
		}
		if len(cond.Fields) == 0 {
			return fmt.Errorf("%w: at least one field predicate is required", ErrInvalidCondition)
		}
		if len(cond.Fields) > maxFieldPreds {
			return fmt.Errorf("%w: more than %d field predicates", ErrInvalidCondition, maxFieldPreds)
		}
		for field, pred := range cond.Fields {
			if field == keyType || field == keyDeviceID {
				return fmt.Errorf("%w: %q is reserved", ErrInvalidCondition, field)
			}
			if pred.Range && pred.Min != nil && pred.Max != nil && *pred.Min > *pred.Max {
				return fmt.Errorf("%w: field %q has min > max", ErrInvalidCondition, field)
			}
		}
	case nil:
		return fmt.Errorf("%w: missing", ErrInvalidCondition)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidCondition, c)
	}
	return nil
}

func validateAction(a Action) error {
	switch act := a.(type) {
	case SendAlert:
		if !act.Level.Valid() {
			return fmt.Errorf("%w: unknown alert level %q", ErrInvalidAction, act.Level)
		}
		return validateMessage(act.Message)
	case ControlDevice:
		if act.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidAction)
		}
		switch cmd := act.Command.(type) {
		case string:
			if cmd == "" {
				return fmt.Errorf("%w: command is empty", ErrInvalidAction)
			}
		case map[string]any:
		case nil:
			return fmt.Errorf("%w: command is required", ErrInvalidAction)
		default:
			return fmt.Errorf("%w: command must be a string or object", ErrInvalidAction)
		}
	case SendNotification:
		return validateMessage(act.Message)
	case LogEvent:
		return validateMessage(act.Message)
	case nil:
		return fmt.Errorf("%w: missing", ErrInvalidAction)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
	return nil
}

func validateMessage(msg string) error {
	if len(msg) > maxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidAction, maxMessageLength)
	}
	return nil
}
