package command

import "errors"

var (
	// ErrUnknownDevice is returned for a device the relay has never heard from.
	ErrUnknownDevice = errors.New("command: unknown device")

	// ErrDeviceOffline is returned when the device has been silent longer
	// than the presence TTL.
	ErrDeviceOffline = errors.New("command: device offline")

	// ErrNotConnected is returned when the MQTT client is not connected.
	ErrNotConnected = errors.New("command: mqtt not connected")

	// ErrInvalidCommand is returned for a command that is neither a
	// non-empty string nor a non-empty object.
	ErrInvalidCommand = errors.New("command: invalid command")
)
