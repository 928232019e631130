package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/notify"
)

// fakeExecutor records executed actions.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []executedAction
	err   error
}

type executedAction struct {
	Ctx    ActionContext
	Action Action
}

func (f *fakeExecutor) Execute(_ context.Context, actx ActionContext, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, executedAction{Ctx: actx, Action: action})
	return f.err
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeAlerts captures recorded alerts.
type fakeAlerts struct {
	alerts []alert.Alert
}

func (f *fakeAlerts) Record(a alert.Alert) alert.Alert {
	f.alerts = append(f.alerts, a)
	return a
}

// fakePublisher captures published commands.
type fakePublisher struct {
	published []publishedCommand
	err       error
}

type publishedCommand struct {
	DeviceID string
	Command  any
	Source   string
}

func (f *fakePublisher) Publish(_ context.Context, deviceID string, command any, source string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedCommand{DeviceID: deviceID, Command: command, Source: source})
	return nil
}

// fakeNotifier captures notifications.
type fakeNotifier struct {
	messages []notify.Message
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

// memRepo is an in-memory Repository.
type memRepo struct {
	rules    map[string]RuleRecord
	tasks    map[string]TaskRecord
	triggers int
	runs     int
	failSave bool
}

func newMemRepo() *memRepo {
	return &memRepo{rules: map[string]RuleRecord{}, tasks: map[string]TaskRecord{}}
}

var errSaveFailed = errors.New("save failed")

func (m *memRepo) ListRules(context.Context) ([]RuleRecord, error) {
	out := make([]RuleRecord, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) SaveRule(_ context.Context, r *Rule) error {
	if m.failSave {
		return errSaveFailed
	}
	cond, err := EncodeCondition(r.Condition)
	if err != nil {
		return err
	}
	act, err := EncodeAction(r.Action)
	if err != nil {
		return err
	}
	rec := m.rules[r.ID]
	rec.ID, rec.Name, rec.Description = r.ID, r.Name, r.Description
	rec.ConditionJSON, rec.ActionJSON, rec.Enabled = cond, act, r.Enabled
	m.rules[r.ID] = rec
	return nil
}

func (m *memRepo) RecordTrigger(_ context.Context, id string, at time.Time, count int64) error {
	rec, ok := m.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rec.LastTriggered = &at
	rec.TriggerCount = count
	m.rules[id] = rec
	m.triggers++
	return nil
}

func (m *memRepo) SetRuleEnabled(_ context.Context, id string, enabled bool) error {
	rec, ok := m.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rec.Enabled = enabled
	m.rules[id] = rec
	return nil
}

func (m *memRepo) DeleteRule(_ context.Context, id string) error {
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *memRepo) ListTasks(context.Context) ([]TaskRecord, error) {
	out := make([]TaskRecord, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memRepo) SaveTask(_ context.Context, t *ScheduledTask) error {
	if m.failSave {
		return errSaveFailed
	}
	act, err := EncodeAction(t.Action)
	if err != nil {
		return err
	}
	rec := m.tasks[t.ID]
	rec.ID, rec.Name, rec.Schedule, rec.ActionJSON, rec.Enabled = t.ID, t.Name, t.Schedule, act, t.Enabled
	next := t.NextRun
	rec.NextRun = &next
	m.tasks[t.ID] = rec
	return nil
}

func (m *memRepo) RecordRun(_ context.Context, id string, lastRun, nextRun time.Time, runCount int64) error {
	rec, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	rec.LastRun, rec.NextRun, rec.RunCount = &lastRun, &nextRun, runCount
	m.tasks[id] = rec
	m.runs++
	return nil
}

func (m *memRepo) SetTaskState(_ context.Context, id string, enabled bool, nextRun time.Time) error {
	rec, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	rec.Enabled = enabled
	rec.NextRun = &nextRun
	m.tasks[id] = rec
	return nil
}

func (m *memRepo) DeleteTask(_ context.Context, id string) error {
	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}
