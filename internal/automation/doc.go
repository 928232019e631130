// Package automation evaluates rules against device readings and runs
// cron-scheduled actions.
//
// Rules pair a Condition with an Action. Both are closed sets: a Condition
// is a SensorThreshold or a DeviceCondition, and an Action is one of
// SendAlert, ControlDevice, SendNotification or LogEvent. The Executor
// switches over the action types exhaustively.
//
//	┌─────────────────────────────────────────────────────────┐
//	│                 bridge goroutine                         │
//	│  ┌────────────┐   match   ┌────────────┐                 │
//	│  │   Engine   │──────────▶│  Executor  │──▶ alerts       │
//	│  │ (rules)    │           │            │──▶ commands     │
//	│  └─────┬──────┘           │            │──▶ notifier     │
//	│        │                  └────────────┘──▶ log          │
//	│  ┌─────▼──────┐   due          ▲                         │
//	│  │ Repository │◀─────┌─────────┴──┐                      │
//	│  │  (SQLite)  │      │ Scheduler  │                      │
//	│  └────────────┘      │ (tasks)    │                      │
//	│                      └────────────┘                      │
//	└─────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Engine and Scheduler state is owned by the single bridge goroutine.
// Callers on other goroutines (HTTP handlers, the scheduler ticker) reach
// them through bridge.Call; the router uses bridge.Dispatch. Neither type
// takes locks of its own.
//
// # Persistence
//
// Rule and task definitions are upserted when created. Trigger and run
// counters are written with a single UPDATE each so readers never see
// lastTriggered and triggerCount out of step.
package automation
