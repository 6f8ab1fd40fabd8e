package transport

import "errors"

var (
	// ErrStopped is returned for requests made after Stop or End.
	ErrStopped = errors.New("transport stopped")

	// ErrTooManyErrors is returned once MaxConsecutiveErrors requests in a
	// row have failed. The target is assumed unreachable and the scan
	// cannot continue meaningfully.
	ErrTooManyErrors = errors.New("too many consecutive request errors")

	// ErrInvalidProxyAddress is returned when the proxy address format is
	// invalid. Expected format is "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")
)
