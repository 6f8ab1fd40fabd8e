package core

import "errors"

// ExitEnvironment is the process exit status used when the home or temp
// directory cannot be used. It tells the operator the problem is on their
// side of the machine, not in the scan.
const ExitEnvironment = 3

var (
	// ErrConfiguration is returned when a scan cannot start because of how
	// the engine is configured: plugins not initialized, no target, or no
	// plugin that does any work.
	ErrConfiguration = errors.New("configuration error")

	// ErrEnvironment is returned when the home or temp directory is
	// unusable and the exit function did not end the process.
	ErrEnvironment = errors.New("unusable environment")

	// ErrResourceExhausted is returned when the scan ran out of memory.
	ErrResourceExhausted = errors.New("resources exhausted")

	// ErrUnknownFailure is returned when the scan stopped for a reason
	// nobody anticipated.
	ErrUnknownFailure = errors.New("scan stopped for an unknown reason")

	// ErrUnhandled wraps any other failure of the scan body, including
	// panics.
	ErrUnhandled = errors.New("unhandled scan error")
)
