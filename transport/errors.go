package transport

import "errors"

// Sentinel errors for receiver operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrMissingConn indicates a receiver configured without a packet
	// connection.
	ErrMissingConn = errors.New("packet connection is required")

	// ErrMissingSuite indicates a receiver configured without a cipher
	// suite.
	ErrMissingSuite = errors.New("cipher suite is required")

	// ErrMissingRouter indicates a receiver configured without a router.
	ErrMissingRouter = errors.New("router is required")

	// ErrStaleKey indicates a run of consecutive authentication
	// failures long enough to suggest the session key has rotated
	// without this receiver being told.
	ErrStaleKey = errors.New("session key appears stale")
)
