// Package api implements the HTTP REST API and WebSocket server for the relay.
//
// This package provides:
//   - REST endpoints for devices, commands, alerts, rules, scheduled tasks
//     and telemetry history
//   - A WebSocket hub that pushes alerts and notifications to operators
//   - Bearer JWT authentication with role permissions and ticket-based
//     WebSocket auth
//   - Middleware stack (request ID, logging, metrics, recovery, CORS)
//   - Prometheus metrics at /metrics
//
// # Architecture
//
// Handlers call the relay facade. Rule and task operations are serialised
// onto the engine goroutine by the facade, so handlers may block briefly
// while the engine catches up. Device reads never touch the engine.
//
// # Errors
//
// Every error response uses the envelope {"status", "code", "message"}.
// Command failures map to 404 (unknown device), 409 (device offline) and
// 503 (broker not connected).
package api
