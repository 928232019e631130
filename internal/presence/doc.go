// Package presence keeps the live, in-memory view of every device.
//
// For each device it records the last status payload, a bounded history of
// sensor readings and the server-side time the device was last heard from.
// Online status is derived when a snapshot is taken:
//
//	online = now - LastSeen <= ttl
//
// LastSeen always uses the relay's clock, never a timestamp supplied by the
// device, so skewed device clocks cannot mark a device online or offline.
//
// Usage:
//
//	store := presence.NewStore(presence.WithTTL(30 * time.Second))
//	store.RecordReading("pump-01", map[string]any{"temperature": 31.5})
//	online := store.GetOnline(0)
package presence
