// Package history stores device telemetry and alerts in SQLite.
//
// The Recorder implements telemetry.Sink and alert.Archiver so it can be
// attached to the event router and alert service. It batches rows and
// writes them off the MQTT callback path. The Repository answers the
// historical queries served by the HTTP API: per-sensor history, uptime
// percentage and archived alerts.
package history
