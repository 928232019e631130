// Package router turns inbound MQTT messages into presence updates,
// telemetry writes, alerts and rule evaluations.
//
//	iot/devices/<id>/status  → store.RecordStatus  → sinks
//	iot/devices/<id>/data    → store.RecordReading → sinks → bridge → rules
//	iot/alerts               → alert service (ring, archive, notify)
//	anything else            → logged
package router
