// Package exception collects unexpected plugin failures during a scan.
//
// A failing plugin must not abort the scan. The strategy runs each plugin
// call through Handler.Capture, which records the error or panic together
// with the plugin, phase and URL, and the scan moves on. The collected
// records are cleared at the start of every scan and inspected afterwards.
package exception

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

// DefaultLimit is the number of records kept per scan. Further failures are
// counted but not stored.
const DefaultLimit = 1000

// ErrPanic marks a record created from a recovered panic.
var ErrPanic = errors.New("plugin panicked")

// Record describes one captured failure.
type Record struct {
	Phase  string
	Plugin string
	URL    string
	Err    error
	Stack  string
	At     time.Time
}

// String returns a one-line summary of the record.
func (r Record) String() string {
	if r.URL == "" {
		return fmt.Sprintf("%s/%s: %v", r.Phase, r.Plugin, r.Err)
	}
	return fmt.Sprintf("%s/%s at %s: %v", r.Phase, r.Plugin, r.URL, r.Err)
}

// Handler is a scan-scoped, concurrency-safe collector of failures.
type Handler struct {
	mu      sync.Mutex
	records []Record
	total   int
	limit   int
	logger  *slog.Logger
	notify  func(Record)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger that reports every captured failure.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithLimit sets how many records are kept.
func WithLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.limit = n
		}
	}
}

// WithNotify sets a callback invoked for every captured failure, stored or not.
func WithNotify(fn func(Record)) Option {
	return func(h *Handler) {
		h.notify = fn
	}
}

// New returns an empty Handler.
func New(opts ...Option) *Handler {
	h := &Handler{limit: DefaultLimit}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Handle records err raised by plugin during phase. A nil err is ignored.
func (h *Handler) Handle(phase, plugin, url string, err error, stack []byte) {
	if err == nil {
		return
	}
	rec := Record{
		Phase:  phase,
		Plugin: plugin,
		URL:    url,
		Err:    err,
		Stack:  string(stack),
		At:     time.Now(),
	}

	h.mu.Lock()
	h.total++
	if len(h.records) < h.limit {
		h.records = append(h.records, rec)
	}
	notify := h.notify
	h.mu.Unlock()

	h.logger.Error("plugin failed",
		"phase", phase,
		"plugin", plugin,
		"url", url,
		"error", err,
	)
	if notify != nil {
		notify(rec)
	}
}

// Capture runs fn, recording its error or a recovered panic. A panic is
// recorded with the stack of the panicking goroutine, an error with the
// stack of the capture site. The error is returned so callers can still
// react to control signals it wraps.
func (h *Handler) Capture(phase, plugin, url string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			h.Handle(phase, plugin, url, err, debug.Stack())
		}
	}()

	err = fn()
	if err != nil {
		h.Handle(phase, plugin, url, err, debug.Stack())
	}
	return err
}

// Records returns a copy of the stored records in capture order.
func (h *Handler) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.records)
}

// Len returns the number of failures captured since the last Clear,
// including those beyond the storage limit.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Clear removes every record.
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.total = 0
}
