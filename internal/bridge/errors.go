package bridge

import "errors"

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("bridge: closed")
