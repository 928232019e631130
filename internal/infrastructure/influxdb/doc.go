// Package influxdb mirrors relay telemetry into InfluxDB v2.
//
// It is an optional telemetry sink next to the SQLite history: every sensor
// value, status snapshot and alert becomes a point, written through the
// client library's non-blocking batch writer.
//
//	sensor_readings  tags: device_id, sensor_type, unit, location   field: value
//	device_status    tags: device_id                                fields: online, numeric status fields
//	alerts           tags: level, source, device_id, rule_id        field: message
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without it
//	}
//	router.AddSink(client)
package influxdb
