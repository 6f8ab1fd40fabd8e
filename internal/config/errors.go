package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and profile loading.
// Callers use errors.Is() for programmatic handling.
var (
	// ErrInvalidWorkerThreads is returned when the worker pool size is not positive.
	ErrInvalidWorkerThreads = errors.New("invalid worker threads: must be positive")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidMaxDepth is returned when the crawl depth is negative.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidRateLimit is returned when the rate limit is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrInvalidMaxErrors is returned when the consecutive error ceiling is negative.
	ErrInvalidMaxErrors = errors.New("invalid max consecutive errors: must be non-negative")

	// ErrProfileNotFound is returned when a profile file does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInvalidOption is returned for a malformed plugin option assignment.
	ErrInvalidOption = errors.New("invalid plugin option: expected category.plugin.key=value")
)

// ErrUnusableDirectory is returned when a home or temporary directory
// cannot be created or written to.
var ErrUnusableDirectory = errors.New("directory is not usable")
