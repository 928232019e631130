package relay

import "errors"

var (
	// ErrAlreadyStarted is returned by StartEngine on a running Service.
	ErrAlreadyStarted = errors.New("relay: engine already started")

	// ErrNotStarted is returned by engine operations before StartEngine.
	ErrNotStarted = errors.New("relay: engine not started")

	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("relay: missing dependency")
)
