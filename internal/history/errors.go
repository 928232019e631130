package history

import "errors"

var (
	// ErrAlertNotFound is returned when an alert id is not in the archive.
	ErrAlertNotFound = errors.New("history: alert not found")

	// ErrRecorderClosed is returned by Flush after Close.
	ErrRecorderClosed = errors.New("history: recorder closed")
)
