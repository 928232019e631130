// Package alert defines relay alerts and keeps the most recent ones in
// memory.
//
// Alerts arrive from devices on iot/alerts or are raised by automation
// rules. Every alert goes into a fixed-size ring buffer for quick queries
// and to the durable archive; WARNING, ERROR and CRITICAL alerts are also
// passed to the notifier. Notification always runs on the engine
// goroutine, never on the MQTT callback.
package alert
