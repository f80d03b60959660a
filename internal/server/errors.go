package server

import "errors"

var (
	// ErrResource reports a failure to acquire a runtime resource (zone
	// manager slot, cache, resolver, listener).
	ErrResource = errors.New("resource error")

	// ErrFatal marks a failure that leaves the server without a usable
	// configuration. The process is expected to exit.
	ErrFatal = errors.New("fatal error")

	// ErrInvalidPhase is returned for lifecycle requests the current phase
	// cannot accept.
	ErrInvalidPhase = errors.New("request not valid in current phase")
)
