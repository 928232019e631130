// Package notify delivers alerts and automation notifications to operator
// channels.
//
// Channels implement Notifier. Multi fans out to several of them; the
// relay wires the WebSocket hub, Kafka (when brokers are configured) and a
// log fallback. Notifiers are called on the bridge goroutine and may block
// on network I/O.
package notify
