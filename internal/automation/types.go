package automation

import "time"

// Rule pairs a condition over device readings with an action.
type Rule struct {
	ID          string    `json:"rule_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Condition   Condition `json:"-"`
	Action      Action    `json:"-"`
	Enabled     bool      `json:"enabled"`

	// Counters, mutated only by the Engine after a match.
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int64      `json:"trigger_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy whose counters can be modified independently.
func (r *Rule) Clone() Rule {
	c := *r
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	return c
}

// ScheduledTask runs an action on a cron schedule.
type ScheduledTask struct {
	ID       string `json:"task_id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Action   Action `json:"-"`
	Enabled  bool   `json:"enabled"`

	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  time.Time  `json:"next_run"`
	RunCount int64      `json:"run_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of the task.
func (t *ScheduledTask) Clone() ScheduledTask {
	c := *t
	if t.LastRun != nil {
		lr := *t.LastRun
		c.LastRun = &lr
	}
	return c
}

// ActionContext describes what caused an action to run.
type ActionContext struct {
	// DeviceID is the device whose reading matched. Empty for scheduled tasks.
	DeviceID string

	// Reading is the matched reading, nil for scheduled tasks.
	Reading map[string]any

	RuleID string
	TaskID string
}
