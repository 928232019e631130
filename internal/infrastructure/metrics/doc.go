// Package metrics exposes the relay's Prometheus collectors.
//
// Collectors are package-level and always usable; Init registers them with
// the default registry so promhttp.Handler serves them on /metrics.
package metrics
