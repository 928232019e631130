// Package config handles loading and validating the IoT relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with IOTRELAY_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Credentials (MQTT password, InfluxDB token, JWT secret) should be supplied
// through the environment rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.PresenceTTL()
package config
