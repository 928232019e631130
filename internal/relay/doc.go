// Package relay assembles the device state and automation engine and exposes
// it as a single facade to the HTTP API and other front ends.
//
// A Service owns the presence store, the engine bridge, the alert service,
// the history recorder, the rule engine, the scheduler and the command
// publisher. StartEngine loads persisted rules and tasks, starts the
// background loops and subscribes to the broker; StopEngine reverses that.
//
// Methods that read or change rules and tasks run on the bridge goroutine via
// bridge.Call, so they block until the engine has processed the request or
// ctx is done. Device and alert reads go straight to their stores.
package relay
