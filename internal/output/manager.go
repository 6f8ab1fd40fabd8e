// Package output routes log messages and findings from the scan engine to
// the enabled output plugins.
//
// The Manager is the engine's logging sink. It is created once by the
// caller and handed to the engine; nothing in the engine reaches for a
// process-wide logger.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
)

// ErrPanic marks an output plugin call that panicked.
var ErrPanic = errors.New("output plugin panicked")

// Sink is the logging contract the engine depends on.
type Sink interface {
	Debug(msg string) error
	Information(msg string) error
	Error(msg string) error
	LogEnabledPlugins(set plugin.EnabledSet) error
	EndOutputPlugins(ctx context.Context, env *plugin.Env) error
}

// Manager fans messages and findings out to output plugins and mirrors
// messages to a structured logger.
type Manager struct {
	mu      sync.RWMutex
	plugins []plugin.Outputter
	logger  *slog.Logger
	console io.Writer
}

// Option configures a Manager.
type Option func(*Manager)

// WithConsole sets the writer used when output plugins cannot be reached.
// Defaults to os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(m *Manager) {
		m.console = w
	}
}

// NewManager returns a Manager without output plugins.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{logger: logger, console: os.Stderr}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// SetOutputPlugins replaces the output plugins.
func (m *Manager) SetOutputPlugins(plugins []plugin.Outputter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = plugins
}

// OutputPlugins returns the current output plugins.
func (m *Manager) OutputPlugins() []plugin.Outputter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]plugin.Outputter, len(m.plugins))
	copy(out, m.plugins)
	return out
}

// Console returns the fallback writer.
func (m *Manager) Console() io.Writer {
	return m.console
}

// Debug sends a debug message.
func (m *Manager) Debug(msg string) error {
	return m.emit(slog.LevelDebug, msg)
}

// Information sends an informational message.
func (m *Manager) Information(msg string) error {
	return m.emit(slog.LevelInfo, msg)
}

// Error sends an error message.
func (m *Manager) Error(msg string) error {
	return m.emit(slog.LevelError, msg)
}

func (m *Manager) emit(level slog.Level, text string) error {
	m.logger.Log(context.Background(), level, text)
	return m.forward(plugin.Message{Level: level, Text: text, At: time.Now()})
}

// forward delivers msg to every output plugin. A failing plugin does not
// keep the message from the others.
func (m *Manager) forward(msg plugin.Message) error {
	var errs []error
	for _, p := range m.OutputPlugins() {
		if err := p.Log(msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Finding delivers a new finding to every output plugin.
func (m *Manager) Finding(f model.Finding) error {
	var errs []error
	for _, p := range m.OutputPlugins() {
		if err := p.Finding(f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogEnabledPlugins announces the enabled plugins and their options.
func (m *Manager) LogEnabledPlugins(set plugin.EnabledSet) error {
	for _, cat := range plugin.Categories() {
		if names := set.Plugins[cat]; len(names) > 0 {
			m.logger.Debug("enabled plugins", "category", string(cat), "plugins", names)
		}
	}

	var errs []error
	for _, p := range m.OutputPlugins() {
		if err := p.LogEnabledPlugins(set); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// EndOutputPlugins flushes every output plugin and removes them. All
// plugins are ended even when some fail or panic.
func (m *Manager) EndOutputPlugins(ctx context.Context, env *plugin.Env) error {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = nil
	m.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		if err := endPlugin(ctx, p, env); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// endPlugin ends p, turning a panic into an error wrapping ErrPanic.
func endPlugin(ctx context.Context, p plugin.Outputter, env *plugin.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return p.End(ctx, env)
}

// Logger returns a structured logger whose records reach both the
// underlying logger and the output plugins. Plugins log through it.
func (m *Manager) Logger() *slog.Logger {
	return slog.New(&sinkHandler{m: m, next: m.logger.Handler()})
}
