package router

import "errors"

// ErrMalformedPayload is returned by Route for a payload that is not a
// JSON object.
var ErrMalformedPayload = errors.New("router: malformed payload")
