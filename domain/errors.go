package domain

import "errors"

// ErrMalformedFrame indicates an inbound frame that could not be decoded into
// a known event shape. Such frames are dropped; the connection stays usable.
var ErrMalformedFrame = errors.New("malformed frame")
