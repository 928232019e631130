package automation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by the Engine, Executor and
// Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine holds the rule set and evaluates it against device readings.
//
// The in-memory rule set is the source of truth for evaluation; the
// repository mirrors it. A failed counter write is logged and does not undo
// the in-memory update.
//
// Engine is not safe for concurrent use. Run every call on the bridge
// goroutine.
type Engine struct {
	repo     Repository
	executor ActionExecutor
	logger   Logger
	now      func() time.Time

	rules map[string]*Rule
	order []string // rule IDs, sorted
}

// NewEngine creates a rule engine. repo may be nil for a purely in-memory
// engine.
func NewEngine(repo Repository, executor ActionExecutor, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		repo:     repo,
		executor: executor,
		logger:   logger,
		now:      time.Now,
		rules:    make(map[string]*Rule),
	}
}

// SetClock replaces the clock used for trigger timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// LoadRules replaces the rule set with the repository's contents. A rule
// whose condition or action no longer decodes is kept but disabled, and an
// error is logged.
func (e *Engine) LoadRules(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	records, err := e.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	e.rules = make(map[string]*Rule, len(records))
	for i := range records {
		rec := &records[i]
		rule := &Rule{
			ID:            rec.ID,
			Name:          rec.Name,
			Description:   rec.Description,
			Enabled:       rec.Enabled,
			LastTriggered: rec.LastTriggered,
			TriggerCount:  rec.TriggerCount,
			CreatedAt:     rec.CreatedAt,
		}

		cond, condErr := DecodeCondition(rec.ConditionJSON)
		act, actErr := DecodeAction(rec.ActionJSON)
		if condErr != nil || actErr != nil {
			e.logger.Error("rule disabled: stored definition is invalid",
				"rule_id", rec.ID, "condition_error", errString(condErr), "action_error", errString(actErr))
			rule.Enabled = false
			if rec.Enabled {
				if err := e.repo.SetRuleEnabled(ctx, rec.ID, false); err != nil {
					e.logger.Warn("failed to persist disabled rule", "rule_id", rec.ID, "error", err)
				}
			}
		}
		rule.Condition = cond
		rule.Action = act
		e.rules[rule.ID] = rule
	}
	e.reindex()

	e.logger.Info("automation rules loaded", "count", len(e.rules))
	return nil
}

// Evaluate runs every enabled rule against one reading from deviceID, in
// rule ID order, and returns the number of rules that matched. Each match
// executes the rule's action and then advances its trigger counters.
func (e *Engine) Evaluate(ctx context.Context, deviceID string, reading map[string]any) int {
	matched := 0
	for _, id := range e.order {
		rule := e.rules[id]
		if !rule.Enabled || rule.Condition == nil || rule.Action == nil {
			continue
		}
		if !rule.Condition.Match(deviceID, reading) {
			continue
		}
		matched++

		actx := ActionContext{DeviceID: deviceID, Reading: reading, RuleID: rule.ID}
		if err := e.executor.Execute(ctx, actx, rule.Action); err != nil {
			e.logger.Error("rule action failed",
				"rule_id", rule.ID, "action", rule.Action.ActionType(), "device_id", deviceID, "error", err)
		}

		now := e.now().UTC()
		rule.LastTriggered = &now
		rule.TriggerCount++
		metrics.IncRuleTrigger(rule.ID)

		if e.repo != nil {
			if err := e.repo.RecordTrigger(ctx, rule.ID, now, rule.TriggerCount); err != nil {
				e.logger.Warn("failed to persist rule trigger", "rule_id", rule.ID, "error", err)
			}
		}
		e.logger.Debug("rule triggered", "rule_id", rule.ID, "device_id", deviceID, "count", rule.TriggerCount)
	}
	return matched
}

// AddRule validates and stores a rule. Adding a rule with an existing ID
// replaces its definition and keeps its counters.
func (e *Engine) AddRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := ValidateRule(&rule); err != nil {
		return Rule{}, err
	}

	if existing, ok := e.rules[rule.ID]; ok {
		rule.LastTriggered = existing.LastTriggered
		rule.TriggerCount = existing.TriggerCount
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.LastTriggered = nil
		rule.TriggerCount = 0
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = e.now().UTC()
	}

	if e.repo != nil {
		if err := e.repo.SaveRule(ctx, &rule); err != nil {
			return Rule{}, err
		}
	}

	stored := rule.Clone()
	_, existed := e.rules[rule.ID]
	e.rules[rule.ID] = &stored
	if !existed {
		e.reindex()
	}

	e.logger.Info("automation rule saved", "rule_id", rule.ID, "name", rule.Name)
	return rule, nil
}

// CreateThresholdRule adds a rule raising an alert when sensorType on
// deviceID compares to threshold with op. The rule ID is derived from the
// arguments other than level, so repeating the call updates the same rule.
func (e *Engine) CreateThresholdRule(ctx context.Context, deviceID, sensorType string, threshold float64, op Operator, level alert.Level) (string, error) {
	if op.Name() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, op)
	}
	if level == "" {
		level = alert.LevelWarning
	}
	thresholdText := strconv.FormatFloat(threshold, 'f', -1, 64)

	rule := Rule{
		ID:          ThresholdRuleID(deviceID, sensorType, op, threshold),
		Name:        titleCase(sensorType) + " Threshold Alert",
		Description: fmt.Sprintf("Alert when %s %s %s", sensorType, op, thresholdText),
		Condition: SensorThreshold{
			DeviceID:   deviceID,
			SensorType: sensorType,
			Operator:   op,
			Threshold:  threshold,
		},
		Action: SendAlert{
			Level:   level,
			Message: fmt.Sprintf("%s %s %s on %s", sensorType, op, thresholdText, deviceID),
		},
		Enabled: true,
	}

	saved, err := e.AddRule(ctx, rule)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

// ThresholdRuleID returns the deterministic ID of a threshold rule.
// Device and sensor names may contain underscores, so the ID ends with a
// digest of the pair to keep ("pump", "flow_rate") and ("pump_flow", "rate")
// apart.
func ThresholdRuleID(deviceID, sensorType string, op Operator, threshold float64) string {
	digest := uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID+"\x00"+sensorType)).String()[:8]
	return fmt.Sprintf("threshold_%s_%s_%s_%s_%s",
		deviceID, sensorType, op.Name(), strconv.FormatFloat(threshold, 'f', -1, 64), digest)
}

// CreateDeviceControlRule adds a rule sending command to targetDevice when
// every predicate in fields holds for a reading from triggerDevice.
func (e *Engine) CreateDeviceControlRule(ctx context.Context, triggerDevice string, fields map[string]FieldPredicate, targetDevice string, command any) (string, error) {
	rule := Rule{
		ID:          fmt.Sprintf("control_%s_%s_%s", triggerDevice, targetDevice, uuid.NewString()[:8]),
		Name:        fmt.Sprintf("Auto Control: %s → %s", triggerDevice, targetDevice),
		Description: fmt.Sprintf("Control %s based on %s conditions", targetDevice, triggerDevice),
		Condition:   DeviceCondition{DeviceID: triggerDevice, Fields: fields},
		Action:      ControlDevice{DeviceID: targetDevice, Command: command},
		Enabled:     true,
	}

	saved, err := e.AddRule(ctx, rule)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

// GetRule returns a copy of one rule.
func (e *Engine) GetRule(id string) (Rule, error) {
	rule, ok := e.rules[id]
	if !ok {
		return Rule{}, ErrRuleNotFound
	}
	return rule.Clone(), nil
}

// ListRules returns copies of all rules ordered by ID.
func (e *Engine) ListRules() []Rule {
	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].Clone())
	}
	return out
}

// SetRuleEnabled enables or disables a rule. A rule whose stored
// definition failed to decode cannot be enabled.
func (e *Engine) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	rule, ok := e.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	if enabled && (rule.Condition == nil || rule.Action == nil) {
		return fmt.Errorf("%w: stored definition is invalid", ErrInvalidRule)
	}
	if e.repo != nil {
		if err := e.repo.SetRuleEnabled(ctx, id, enabled); err != nil {
			return err
		}
	}
	rule.Enabled = enabled
	e.logger.Info("automation rule updated", "rule_id", id, "enabled", enabled)
	return nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if _, ok := e.rules[id]; !ok {
		return ErrRuleNotFound
	}
	if e.repo != nil {
		if err := e.repo.DeleteRule(ctx, id); err != nil {
			return err
		}
	}
	delete(e.rules, id)
	e.reindex()
	e.logger.Info("automation rule deleted", "rule_id", id)
	return nil
}

// Count returns the number of rules.
func (e *Engine) Count() int {
	return len(e.rules)
}

func (e *Engine) reindex() {
	e.order = e.order[:0]
	for id := range e.rules {
		e.order = append(e.order, id)
	}
	sort.Strings(e.order)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
