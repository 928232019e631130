// Package telemetry holds the small helpers shared by everything that reads
// device payloads: numeric coercion, sensor_type/value normalisation, unit
// lookup and the Sink interface implemented by the history recorder and
// the InfluxDB writer.
package telemetry
