package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// stuckSchedule never advances past the given instant.
type stuckSchedule struct{ at time.Time }

func (s stuckSchedule) Next(time.Time) time.Time { return s.at }

func newTestScheduler(repo Repository, now *time.Time) (*Scheduler, *fakeExecutor) {
	exec := &fakeExecutor{}
	s := NewScheduler(repo, exec, time.Minute, nil)
	s.SetClock(func() time.Time { return *now })
	return s, exec
}

func TestProcessDueEveryMinute(t *testing.T) {
	now := t0
	repo := newMemRepo()
	s, exec := newTestScheduler(repo, &now)
	ctx := context.Background()

	task, err := s.AddTask(ctx, ScheduledTask{
		ID: "heartbeat", Name: "Heartbeat", Schedule: "* * * * *",
		Action: LogEvent{Message: "tick"}, Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if want := t0.Truncate(time.Minute).Add(time.Minute); !task.NextRun.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", task.NextRun, want)
	}

	if n := s.ProcessDue(ctx, now); n != 0 {
		t.Fatalf("ProcessDue before due ran %d", n)
	}

	prev := task.NextRun
	for i := 1; i <= 3; i++ {
		now = now.Add(time.Minute)
		if n := s.ProcessDue(ctx, now); n != 1 {
			t.Fatalf("tick %d ran %d tasks, want 1", i, n)
		}
		got, _ := s.GetTask("heartbeat")
		if !got.NextRun.After(prev) {
			t.Fatalf("tick %d: NextRun %v not after %v", i, got.NextRun, prev)
		}
		if !got.NextRun.After(now) {
			t.Fatalf("tick %d: NextRun %v not after now %v", i, got.NextRun, now)
		}
		prev = got.NextRun
	}

	got, _ := s.GetTask("heartbeat")
	if got.RunCount != 3 {
		t.Errorf("RunCount = %d, want 3", got.RunCount)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Errorf("LastRun = %v, want %v", got.LastRun, now)
	}
	if exec.count() != 3 {
		t.Errorf("actions = %d, want 3", exec.count())
	}
	if exec.calls[0].Ctx.DeviceID != "" || exec.calls[0].Ctx.TaskID != "heartbeat" {
		t.Errorf("action context = %+v", exec.calls[0].Ctx)
	}
	if rec := repo.tasks["heartbeat"]; rec.RunCount != 3 || repo.runs != 3 {
		t.Errorf("persisted run count = %d (writes %d)", rec.RunCount, repo.runs)
	}
}

func TestProcessDueDisablesNonAdvancingTask(t *testing.T) {
	now := t0
	repo := newMemRepo()
	s, exec := newTestScheduler(repo, &now)
	ctx := context.Background()

	for _, id := range []string{"broken", "healthy"} {
		if _, err := s.AddTask(ctx, ScheduledTask{
			ID: id, Name: id, Schedule: "* * * * *", Action: LogEvent{}, Enabled: true,
		}); err != nil {
			t.Fatalf("AddTask(%s) error = %v", id, err)
		}
	}
	s.schedules["broken"] = stuckSchedule{at: t0}

	now = t0.Add(time.Minute)
	if n := s.ProcessDue(ctx, now); n != 2 {
		t.Fatalf("ran %d, want 2", n)
	}

	broken, _ := s.GetTask("broken")
	if broken.Enabled {
		t.Error("non-advancing task still enabled")
	}
	if repo.tasks["broken"].Enabled {
		t.Error("disabled state not persisted")
	}

	now = now.Add(time.Minute)
	s.ProcessDue(ctx, now)
	if exec.count() != 3 {
		t.Errorf("actions = %d, want 3 (healthy task keeps running)", exec.count())
	}
}

func TestProcessDueActionErrorStillAdvances(t *testing.T) {
	now := t0
	s, exec := newTestScheduler(nil, &now)
	exec.err = errors.New("no notifier")
	ctx := context.Background()

	if _, err := s.AddTask(ctx, ScheduledTask{ID: "t", Name: "t", Schedule: "@every 5m", Action: SendNotification{}, Enabled: true}); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	now = now.Add(5 * time.Minute)
	s.ProcessDue(ctx, now)

	got, _ := s.GetTask("t")
	if got.RunCount != 1 || !got.NextRun.After(now) {
		t.Errorf("task = %+v", got)
	}
}

func TestAddTaskValidation(t *testing.T) {
	now := t0
	s, _ := newTestScheduler(nil, &now)
	ctx := context.Background()

	tests := []struct {
		name string
		task ScheduledTask
		want error
	}{
		{"bad cron", ScheduledTask{Name: "x", Schedule: "every day", Action: LogEvent{}, Enabled: true}, ErrInvalidSchedule},
		{"never fires", ScheduledTask{Name: "x", Schedule: "0 0 30 2 *", Action: LogEvent{}, Enabled: true}, ErrInvalidSchedule},
		{"empty schedule", ScheduledTask{Name: "x", Action: LogEvent{}, Enabled: true}, ErrInvalidSchedule},
		{"no name", ScheduledTask{Schedule: "@hourly", Action: LogEvent{}}, ErrInvalidTask},
		{"no action", ScheduledTask{Name: "x", Schedule: "@hourly"}, ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddTask(ctx, tt.task); !errors.Is(err, tt.want) {
				t.Errorf("AddTask() error = %v, want %v", err, tt.want)
			}
		})
	}

	task, err := s.AddTask(ctx, ScheduledTask{Name: "generated", Schedule: "@hourly", Action: LogEvent{}, Enabled: true})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if task.ID == "" {
		t.Error("ID not generated")
	}
}

func TestSetTaskEnabledRecomputesNextRun(t *testing.T) {
	now := t0
	repo := newMemRepo()
	s, _ := newTestScheduler(repo, &now)
	ctx := context.Background()

	if _, err := s.AddTask(ctx, ScheduledTask{ID: "t", Name: "t", Schedule: "@hourly", Action: LogEvent{}, Enabled: true}); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if err := s.SetTaskEnabled(ctx, "t", false); err != nil {
		t.Fatalf("disable error = %v", err)
	}
	got, _ := s.GetTask("t")
	if got.Enabled || !got.NextRun.IsZero() {
		t.Errorf("disabled task = %+v", got)
	}

	now = t0.Add(5 * time.Hour)
	if err := s.SetTaskEnabled(ctx, "t", true); err != nil {
		t.Fatalf("enable error = %v", err)
	}
	got, _ = s.GetTask("t")
	if want := now.Truncate(time.Hour).Add(time.Hour); !got.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got.NextRun, want)
	}

	if err := s.SetTaskEnabled(ctx, "missing", true); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing task error = %v", err)
	}
	if err := s.DeleteTask(ctx, "t"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if len(s.ListTasks()) != 0 || len(repo.tasks) != 0 {
		t.Error("task not deleted")
	}
}

func TestLoadTasks(t *testing.T) {
	now := t0
	repo := newMemRepo()
	stale := t0.Add(-time.Hour)
	repo.tasks["ok"] = TaskRecord{ID: "ok", Name: "ok", Schedule: "*/5 * * * *", Enabled: true,
		ActionJSON: []byte(`{"type":"log_event","message":"m"}`), NextRun: &stale, RunCount: 4}
	repo.tasks["bad-cron"] = TaskRecord{ID: "bad-cron", Name: "b", Schedule: "61 * * * *", Enabled: true,
		ActionJSON: []byte(`{"type":"log_event"}`)}
	repo.tasks["bad-action"] = TaskRecord{ID: "bad-action", Name: "c", Schedule: "@hourly", Enabled: true,
		ActionJSON: []byte(`{"type":"reboot"}`)}

	s, _ := newTestScheduler(repo, &now)
	if err := s.LoadTasks(context.Background()); err != nil {
		t.Fatalf("LoadTasks() error = %v", err)
	}

	ok, _ := s.GetTask("ok")
	if !ok.Enabled || ok.RunCount != 4 {
		t.Errorf("ok task = %+v", ok)
	}
	if want := time.Date(2026, 10, 1, 12, 5, 0, 0, time.UTC); !ok.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want recomputed %v", ok.NextRun, want)
	}
	for _, id := range []string{"bad-cron", "bad-action"} {
		task, _ := s.GetTask(id)
		if task.Enabled {
			t.Errorf("%s loaded enabled", id)
		}
		if repo.tasks[id].Enabled {
			t.Errorf("%s disabled state not persisted", id)
		}
	}

	// Missed runs are skipped, not replayed.
	if n := s.ProcessDue(context.Background(), now); n != 0 {
		t.Errorf("ProcessDue right after load ran %d", n)
	}
}

// countingCaller runs fn inline.
type countingCaller struct{ calls atomic.Int32 }

func (c *countingCaller) Call(ctx context.Context, _ string, fn func(context.Context) error) error {
	c.calls.Add(1)
	return fn(ctx)
}

func TestRunAndStop(t *testing.T) {
	s := NewScheduler(nil, &fakeExecutor{}, 5*time.Millisecond, nil)
	caller := &countingCaller{}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), caller)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for caller.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if caller.calls.Load() < 2 {
		t.Errorf("ticks = %d, want at least 2", caller.calls.Load())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := NewScheduler(nil, &fakeExecutor{}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, &countingCaller{})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
