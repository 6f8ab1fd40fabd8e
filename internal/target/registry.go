// Package target holds the URLs a scan runs against.
//
// The registry is configuration: it is set before a scan, read by the
// strategy during the scan and cleared once the scan has ended.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrInvalidTarget is returned when a target cannot be parsed as a URL
	// with a host.
	ErrInvalidTarget = errors.New("invalid target URL")

	// ErrUnsupportedScheme is returned for targets that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported target scheme: only http and https are supported")
)

// Parse normalizes a target: a missing scheme becomes http, the host is
// lowercased, an empty path becomes "/" and the fragment is dropped.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, raw)
	}

	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return u, nil
}

// Registry is an ordered, duplicate-free set of target URLs.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	targets []*url.URL
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set replaces all targets. Nothing changes when any target is invalid.
func (r *Registry) Set(raw ...string) error {
	parsed := make([]*url.URL, 0, len(raw))
	for _, s := range raw {
		u, err := Parse(s)
		if err != nil {
			return err
		}
		if !containsURL(parsed, u) {
			parsed = append(parsed, u)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = parsed
	return nil
}

// Add appends a target unless it is already present.
func (r *Registry) Add(raw string) error {
	u, err := Parse(raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !containsURL(r.targets, u) {
		r.targets = append(r.targets, u)
	}
	return nil
}

// URLs returns copies of the targets in insertion order.
func (r *Registry) URLs() []*url.URL {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*url.URL, len(r.targets))
	for i, u := range r.targets {
		c := *u
		out[i] = &c
	}
	return out
}

// Strings returns the targets as strings in insertion order.
func (r *Registry) Strings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.targets))
	for i, u := range r.targets {
		out[i] = u.String()
	}
	return out
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// Clear removes every target.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = nil
}

func containsURL(list []*url.URL, u *url.URL) bool {
	s := u.String()
	for _, existing := range list {
		if existing.String() == s {
			return true
		}
	}
	return false
}
