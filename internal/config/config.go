package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "webscan"

	// DefaultWorkerThreads is the size of the scan worker pool.
	// The engine never resizes the pool at runtime.
	DefaultWorkerThreads = 20

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxDepth limits how many links away from a target the crawl
	// phase follows. Depth 0 means only the targets themselves.
	DefaultMaxDepth = 10

	// DefaultMaxDiscoveryTime bounds the crawl phase. When it elapses the
	// strategy moves on to the audit phase with what it found so far.
	DefaultMaxDiscoveryTime = 2 * time.Hour

	// DefaultMaxConsecutiveErrors is the number of failed requests in a row
	// after which the transport refuses to continue.
	DefaultMaxConsecutiveErrors = 10

	// DefaultUserAgent identifies webscan in HTTP requests.
	DefaultUserAgent = "webscan/1.0 (+https://github.com/nao1215/webscan)"

	// DefaultMaxBodySize limits the response body size read per request.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB
)

// Config holds the misc settings of the scanner.
// It is populated from a profile and CLI flags and passed through the
// application via dependency injection rather than global state.
//
// Design decision: Config is configuration, not run state. The engine's
// cleanup between scans never touches it, so a second scan runs with the
// same settings as the first.
type Config struct {
	// WorkerThreads is the size of the worker pool.
	WorkerThreads int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// ProxyAddress is an optional SOCKS5 proxy in "host:port" format.
	// When empty, requests are sent directly.
	ProxyAddress string

	// Headers are extra HTTP headers added to every request.
	Headers map[string]string

	// Cookie is sent with every request when non-empty.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string

	// RateLimit is the maximum number of requests per second.
	// Zero disables rate limiting.
	RateLimit float64

	// MaxBodySize is the maximum response body size in bytes to read.
	// Responses larger than this are truncated.
	MaxBodySize int64

	// MaxDepth is the maximum crawl depth.
	MaxDepth int

	// MaxDiscoveryTime bounds the crawl phase.
	MaxDiscoveryTime time.Duration

	// MaxConsecutiveErrors is the transport error ceiling. Zero disables it.
	MaxConsecutiveErrors int

	// MemoryLimit is the heap size in bytes above which the scan is aborted
	// as resource exhausted. Zero disables the check.
	MemoryLimit uint64

	// HomeDir holds profiles and other persistent user data.
	HomeDir string

	// TempDir is the process-scoped temporary directory.
	TempDir string

	// DBDir is the directory of the findings database used by the sqlite
	// output plugin and the kb command.
	DBDir string

	// Verbose enables debug log output.
	Verbose bool

	// Sites holds per-host overrides loaded from the profile.
	Sites map[string]SiteConfig
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero. This also serves as
// documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		WorkerThreads:        DefaultWorkerThreads,
		Timeout:              DefaultTimeout,
		UserAgent:            DefaultUserAgent,
		MaxBodySize:          DefaultMaxBodySize,
		MaxDepth:             DefaultMaxDepth,
		MaxDiscoveryTime:     DefaultMaxDiscoveryTime,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		HomeDir:              XDGConfigDir(),
		TempDir:              DefaultTempDir(),
		DBDir:                XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for webscan.
// On Linux: ~/.local/share/webscan
// On macOS: ~/Library/Application Support/webscan
// On Windows: %LOCALAPPDATA%\webscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for webscan.
// It is the default home directory.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultTempDir returns the process-scoped temporary directory,
// $TMPDIR/webscan/<pid>.
func DefaultTempDir() string {
	return filepath.Join(os.TempDir(), AppName, fmt.Sprintf("%d", os.Getpid()))
}

// Validate checks if the configuration is valid.
// It returns the first error found.
func (c *Config) Validate() error {
	if c.WorkerThreads <= 0 {
		return ErrInvalidWorkerThreads
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}

	if c.MaxConsecutiveErrors < 0 {
		return ErrInvalidMaxErrors
	}

	return nil
}

// SiteFor returns the effective site configuration for host: the global
// headers and cookie merged with the host's overrides.
func (c *Config) SiteFor(host string) SiteConfig {
	result := SiteConfig{Cookie: c.Cookie}
	if len(c.Headers) > 0 {
		result.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			result.Headers[k] = v
		}
	}
	site, ok := c.Sites[host]
	if !ok {
		return result
	}
	return result.merge(site)
}
