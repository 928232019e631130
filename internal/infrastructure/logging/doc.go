// Package logging provides structured logging for the IoT relay.
//
// It wraps log/slog so every component logs with the same handler, level
// filter and default fields (service, version).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	routerLog := logger.Component("router")
//	routerLog.Warn("dropping malformed payload", "topic", topic, "error", err)
//
// Never log MQTT passwords, JWT secrets or bearer tokens.
package logging
