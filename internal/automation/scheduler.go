package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
)

// DefaultTickInterval is how often Run checks for due tasks.
const DefaultTickInterval = 60 * time.Second

// Caller runs fn on the bridge goroutine and waits for it to finish.
type Caller interface {
	Call(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// cronParser accepts standard five-field expressions and descriptors such
// as @hourly and @every 5m.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Scheduler runs ScheduledTasks when their cron schedule comes due.
//
// Task state is owned by the bridge goroutine: Run hands each tick to the
// bridge through Caller, and every other method must be called there too.
// Stop may be called from any goroutine.
type Scheduler struct {
	repo     Repository
	executor ActionExecutor
	logger   Logger
	now      func() time.Time
	tick     time.Duration

	tasks     map[string]*ScheduledTask
	schedules map[string]cron.Schedule
	order     []string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler. A tick of zero uses DefaultTickInterval.
func NewScheduler(repo Repository, executor ActionExecutor, tick time.Duration, logger Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		repo:      repo,
		executor:  executor,
		logger:    logger,
		now:       time.Now,
		tick:      tick,
		tasks:     make(map[string]*ScheduledTask),
		schedules: make(map[string]cron.Schedule),
		stopCh:    make(chan struct{}),
	}
}

// SetClock replaces the clock used for scheduling.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// LoadTasks replaces the task set with the repository's contents. Next run
// times are recomputed from now, so runs missed while the relay was down
// are skipped. Tasks with an undecodable action or invalid schedule are
// kept disabled and logged.
func (s *Scheduler) LoadTasks(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	records, err := s.repo.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	now := s.now()
	s.tasks = make(map[string]*ScheduledTask, len(records))
	s.schedules = make(map[string]cron.Schedule, len(records))

	for i := range records {
		rec := &records[i]
		task := &ScheduledTask{
			ID:        rec.ID,
			Name:      rec.Name,
			Schedule:  rec.Schedule,
			Enabled:   rec.Enabled,
			LastRun:   rec.LastRun,
			RunCount:  rec.RunCount,
			CreatedAt: rec.CreatedAt,
		}
		if rec.NextRun != nil {
			task.NextRun = *rec.NextRun
		}

		act, actErr := DecodeAction(rec.ActionJSON)
		sched, schedErr := ParseSchedule(rec.Schedule)
		task.Action = act

		switch {
		case actErr != nil || schedErr != nil:
			s.logger.Error("task disabled: stored definition is invalid",
				"task_id", rec.ID, "action_error", errString(actErr), "schedule_error", errString(schedErr))
			task.Enabled = false
		default:
			s.schedules[task.ID] = sched
			if task.Enabled {
				s.advance(task, sched, now)
			}
		}

		if task.Enabled != rec.Enabled || !sameTime(task.NextRun, rec.NextRun) {
			if err := s.repo.SetTaskState(ctx, task.ID, task.Enabled, task.NextRun); err != nil {
				s.logger.Warn("failed to persist task state", "task_id", task.ID, "error", err)
			}
		}
		s.tasks[task.ID] = task
	}
	s.reindex()

	s.logger.Info("scheduled tasks loaded", "count", len(s.tasks))
	return nil
}

// AddTask validates and stores a task, generating an ID when empty. The
// next run is computed from now. Adding a task with an existing ID replaces
// its definition and keeps its run history.
func (s *Scheduler) AddTask(ctx context.Context, task ScheduledTask) (ScheduledTask, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := ValidateTask(&task); err != nil {
		return ScheduledTask{}, err
	}
	sched, err := ParseSchedule(task.Schedule)
	if err != nil {
		return ScheduledTask{}, err
	}

	if existing, ok := s.tasks[task.ID]; ok {
		task.LastRun = existing.LastRun
		task.RunCount = existing.RunCount
		task.CreatedAt = existing.CreatedAt
	} else {
		task.LastRun = nil
		task.RunCount = 0
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now().UTC()
	}

	task.NextRun = time.Time{}
	if task.Enabled {
		next := sched.Next(s.now())
		if next.IsZero() {
			return ScheduledTask{}, fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, task.Schedule)
		}
		task.NextRun = next
	}

	if s.repo != nil {
		if err := s.repo.SaveTask(ctx, &task); err != nil {
			return ScheduledTask{}, err
		}
	}

	stored := task.Clone()
	_, existed := s.tasks[task.ID]
	s.tasks[task.ID] = &stored
	s.schedules[task.ID] = sched
	if !existed {
		s.reindex()
	}

	s.logger.Info("scheduled task saved", "task_id", task.ID, "schedule", task.Schedule, "next_run", task.NextRun)
	return task, nil
}

// GetTask returns a copy of one task.
func (s *Scheduler) GetTask(id string) (ScheduledTask, error) {
	task, ok := s.tasks[id]
	if !ok {
		return ScheduledTask{}, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// ListTasks returns copies of all tasks ordered by ID.
func (s *Scheduler) ListTasks() []ScheduledTask {
	out := make([]ScheduledTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// SetTaskEnabled enables or disables a task. Enabling recomputes the next
// run from now.
func (s *Scheduler) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	task, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	next := time.Time{}
	if enabled {
		sched, ok := s.schedules[id]
		if !ok || task.Action == nil {
			return fmt.Errorf("%w: stored definition is invalid", ErrInvalidTask)
		}
		next = sched.Next(s.now())
		if next.IsZero() {
			return fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, task.Schedule)
		}
	}

	if s.repo != nil {
		if err := s.repo.SetTaskState(ctx, id, enabled, next); err != nil {
			return err
		}
	}
	task.Enabled = enabled
	task.NextRun = next
	s.logger.Info("scheduled task updated", "task_id", id, "enabled", enabled)
	return nil
}

// DeleteTask removes a task.
func (s *Scheduler) DeleteTask(ctx context.Context, id string) error {
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	if s.repo != nil {
		if err := s.repo.DeleteTask(ctx, id); err != nil {
			return err
		}
	}
	delete(s.tasks, id)
	delete(s.schedules, id)
	s.reindex()
	s.logger.Info("scheduled task deleted", "task_id", id)
	return nil
}

// ProcessDue runs every enabled task whose next run is at or before now,
// in task ID order, and returns how many ran. Each run advances LastRun,
// NextRun and RunCount and persists them together. A task whose schedule
// does not advance past now is disabled.
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) int {
	ran := 0
	for _, id := range s.order {
		task := s.tasks[id]
		if !task.Enabled || task.NextRun.IsZero() || now.Before(task.NextRun) {
			continue
		}
		sched := s.schedules[id]

		actx := ActionContext{TaskID: task.ID}
		result := metrics.ResultSuccess
		if err := s.executor.Execute(ctx, actx, task.Action); err != nil {
			result = metrics.ResultError
			s.logger.Error("scheduled task action failed",
				"task_id", task.ID, "action", task.Action.ActionType(), "error", err)
		}
		metrics.IncScheduledRun(result)
		ran++

		lastRun := now
		task.LastRun = &lastRun
		task.RunCount++

		next := sched.Next(now)
		if !next.After(now) {
			s.logger.Error("task disabled: schedule does not advance",
				"task_id", task.ID, "schedule", task.Schedule, "now", now)
			task.Enabled = false
			task.NextRun = time.Time{}
			s.persistRun(ctx, task)
			if s.repo != nil {
				if err := s.repo.SetTaskState(ctx, task.ID, false, time.Time{}); err != nil {
					s.logger.Warn("failed to persist disabled task", "task_id", task.ID, "error", err)
				}
			}
			continue
		}
		task.NextRun = next
		s.persistRun(ctx, task)

		s.logger.Info("scheduled task executed", "task_id", task.ID, "name", task.Name, "next_run", next)
	}
	return ran
}

func (s *Scheduler) persistRun(ctx context.Context, task *ScheduledTask) {
	if s.repo == nil {
		return
	}
	if err := s.repo.RecordRun(ctx, task.ID, *task.LastRun, task.NextRun, task.RunCount); err != nil {
		s.logger.Warn("failed to persist task run", "task_id", task.ID, "error", err)
	}
}

// Run calls ProcessDue through caller once per tick until ctx is cancelled
// or Stop is called. A tick already handed to the bridge completes before
// Run returns.
func (s *Scheduler) Run(ctx context.Context, caller Caller) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.tick)
	defer s.logger.Info("scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.stopped() {
				return
			}
			err := caller.Call(ctx, "scheduler_tick", func(ctx context.Context) error {
				s.ProcessDue(ctx, s.now())
				return nil
			})
			if err != nil {
				s.logger.Warn("scheduler tick not run", "error", err)
			}
		}
	}
}

// Stop ends Run after any in-flight tick. Safe to call more than once and
// from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// advance sets NextRun from now, disabling the task when the schedule never
// fires.
func (s *Scheduler) advance(task *ScheduledTask, sched cron.Schedule, now time.Time) {
	next := sched.Next(now)
	if next.IsZero() {
		s.logger.Error("task disabled: schedule never fires", "task_id", task.ID, "schedule", task.Schedule)
		task.Enabled = false
		task.NextRun = time.Time{}
		return
	}
	task.NextRun = next
}

func (s *Scheduler) reindex() {
	s.order = s.order[:0]
	for id := range s.tasks {
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
}

func sameTime(t time.Time, p *time.Time) bool {
	if p == nil {
		return t.IsZero()
	}
	return t.Equal(*p)
}
