// Package bridge moves work from the MQTT network context onto the single
// engine goroutine that owns rules and scheduled tasks.
//
//	 paho callbacks                engine goroutine
//	 ──────────────                ────────────────
//	 Router.Route ──Dispatch──▶ [ buffered queue ] ──▶ Run: task(ctx)
//	 API / Scheduler ──Call────▶        (FIFO)          one at a time
//
// Dispatch is non-blocking and is the only entry point allowed on the
// network context. Work submitted after Close, or when the queue is full,
// is dropped with a warning and counted in iotrelay_bridge_dropped_total.
//
// Call blocks until the task has run and returns its error. It is meant for
// API handlers and the scheduler ticker, which must observe the outcome.
package bridge
