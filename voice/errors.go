package voice

import "errors"

// Sentinel errors for voice pipeline operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrRouterStopped indicates the router's scheduling loop is no
	// longer running.
	ErrRouterStopped = errors.New("router stopped")

	// ErrRouterRunning indicates Start was called on a router that is
	// already running.
	ErrRouterRunning = errors.New("router already running")

	// ErrNilSink indicates a router configured without a consuming
	// sink.
	ErrNilSink = errors.New("sink cannot be nil")
)
