// Package plugin defines the plugin contracts of the scan engine and the
// registry that tracks which plugins are enabled and how they are configured.
//
// Plugins come in five categories. Infrastructure and crawl plugins discover
// URLs, audit plugins probe each discovered URL, grep plugins inspect every
// HTTP response, and output plugins receive log messages and findings and
// write reports when the scan ends.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/transport"
)

// Category groups plugins by the phase they run in.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryCrawl          Category = "crawl"
	CategoryAudit          Category = "audit"
	CategoryGrep           Category = "grep"
	CategoryOutput         Category = "output"
)

// Categories returns every category in execution order.
func Categories() []Category {
	return []Category{CategoryInfrastructure, CategoryCrawl, CategoryAudit, CategoryGrep, CategoryOutput}
}

// ScanCategories returns the categories that make a scan do work.
// Output plugins alone do not.
func ScanCategories() []Category {
	return []Category{CategoryAudit, CategoryCrawl, CategoryInfrastructure, CategoryGrep}
}

// ParseCategory converts a category name to a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Control signals. A plugin returns an error wrapping one of these to end
// the whole scan instead of just its own call.
var (
	// ErrMustStop ends the scan because of a condition the plugin could not
	// resolve. The scan still finalizes normally.
	ErrMustStop = errors.New("scan must stop")

	// ErrMustStopUnknown ends the scan for a reason nobody anticipated. It
	// is surfaced to the caller as a failure.
	ErrMustStopUnknown = errors.New("scan must stop for an unknown reason")
)

// Registry errors.
var (
	ErrUnknownCategory  = errors.New("unknown plugin category")
	ErrUnknownPlugin    = errors.New("unknown plugin")
	ErrDuplicatePlugin  = errors.New("plugin already registered")
	ErrUnknownOption    = errors.New("unknown plugin option")
	ErrInvalidOption    = errors.New("invalid plugin option value")
	ErrNotInitialized   = errors.New("plugins are not initialized")
	ErrCategoryMismatch = errors.New("plugin does not implement its category")
)

// Plugin is implemented by every plugin.
type Plugin interface {
	Name() string
	Category() Category
	Description() string
}

// OptionInfo documents one plugin option.
type OptionInfo struct {
	Name        string
	Description string
	Default     string
}

// Configurable is implemented by plugins that accept options.
type Configurable interface {
	Options() []OptionInfo
	// SetOption returns an error wrapping ErrUnknownOption or
	// ErrInvalidOption when the option cannot be applied.
	SetOption(key, value string) error
}

// Discoverer is implemented by infrastructure and crawl plugins. It returns
// new URLs found from u. Infrastructure plugins are called once per target
// and usually only report findings.
type Discoverer interface {
	Plugin
	Discover(ctx context.Context, env *Env, u *url.URL) ([]*url.URL, error)
}

// Auditor is implemented by audit plugins.
type Auditor interface {
	Plugin
	Audit(ctx context.Context, env *Env, u *url.URL) error
}

// Grepper is implemented by grep plugins. Grep runs for every response of
// the scan and must not issue requests of its own.
type Grepper interface {
	Plugin
	Grep(ctx context.Context, env *Env, resp *transport.Response) error
}

// Message is a log line routed to output plugins.
type Message struct {
	Level slog.Level
	Text  string
	At    time.Time
}

// EnabledSet describes the enabled plugins and their options for
// announcement at scan start.
type EnabledSet struct {
	Plugins map[Category][]string
	Options map[Category]map[string]map[string]string
}

// Outputter is implemented by output plugins.
type Outputter interface {
	Plugin
	Log(msg Message) error
	LogEnabledPlugins(set EnabledSet) error
	Finding(f model.Finding) error
	// End flushes the plugin. It runs before the transport is torn down,
	// so env.Opener.History() is still available.
	End(ctx context.Context, env *Env) error
}
