package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/exception"
	"github.com/nao1215/webscan/internal/fingerprint"
	"github.com/nao1215/webscan/internal/kb"
	"github.com/nao1215/webscan/internal/metrics"
	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/output"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/status"
	"github.com/nao1215/webscan/internal/strategy"
	"github.com/nao1215/webscan/internal/target"
	"github.com/nao1215/webscan/internal/transport"
	"github.com/nao1215/webscan/internal/workerpool"
)

// Default timing of Stop.
const (
	// DefaultStopPollInterval is how often Stop checks whether the scan
	// has ended.
	DefaultStopPollInterval = 500 * time.Millisecond

	// DefaultStopTimeout is how long Stop waits before giving up.
	DefaultStopTimeout = 10 * time.Second
)

// findingSink is implemented by sinks that also accept findings, such as
// *output.Manager.
type findingSink interface {
	Finding(f model.Finding) error
}

// outputSetter is implemented by sinks that deliver to output plugins.
type outputSetter interface {
	SetOutputPlugins(plugins []plugin.Outputter)
}

// loggerSource is implemented by sinks that provide a structured logger
// for plugins.
type loggerSource interface {
	Logger() *slog.Logger
}

// session is the transient state of one scan attempt. It is replaced as a
// whole by ScanStartHook and never modified field by field afterwards,
// except for the start time and outcome recorded by Start.
type session struct {
	id       string
	seq      *model.Sequence
	strategy *strategy.Strategy
	status   *status.Status
	progress *status.Progress
	env      *plugin.Env

	mu        sync.Mutex
	startedAt time.Time
	outcome   string
}

func (s *session) setStartedAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = t
}

func (s *session) started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *session) setOutcome(o string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
}

func (s *session) result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Core orchestrates scans.
type Core struct {
	cfg     *config.Config
	sink    output.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	console io.Writer
	exit    func(code int)

	stopPollInterval time.Duration
	stopTimeout      time.Duration
	strategyOpts     []strategy.Option
	transportOpts    []func(*transport.Settings)

	targets    *target.Registry
	plugins    *plugin.Registry
	kb         *kb.KnowledgeBase
	exceptions *exception.Handler
	detector   *fingerprint.Detector

	mu          sync.Mutex
	opener      *transport.Opener
	pool        *workerpool.Pool
	session     *session
	launching   bool
	stopPending bool
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger for engine events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics the engine and the transport report to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) {
		c.metrics = m
	}
}

// WithConsole sets the writer used when the sink cannot deliver the end of
// scan message. Defaults to os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(c *Core) {
		c.console = w
	}
}

// WithExitFunc replaces os.Exit for unrecoverable environment errors.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Core) {
		c.exit = fn
	}
}

// WithStopPolling sets how often and how long Stop waits for the scan to
// end.
func WithStopPolling(interval, timeout time.Duration) Option {
	return func(c *Core) {
		if interval > 0 {
			c.stopPollInterval = interval
		}
		if timeout > 0 {
			c.stopTimeout = timeout
		}
	}
}

// WithRegistry sets the plugin registry. Without it the registry is empty.
func WithRegistry(r *plugin.Registry) Option {
	return func(c *Core) {
		c.plugins = r
	}
}

// WithStrategyOptions sets options applied to the strategy of every scan.
func WithStrategyOptions(opts ...strategy.Option) Option {
	return func(c *Core) {
		c.strategyOpts = append(c.strategyOpts, opts...)
	}
}

// WithTransportSettings registers a function that adjusts the settings of
// every transport the engine creates.
func WithTransportSettings(fn func(*transport.Settings)) Option {
	return func(c *Core) {
		c.transportOpts = append(c.transportOpts, fn)
	}
}

// New creates a Core and prepares its first session. cfg and sink are
// required; cfg is kept by reference and read at every scan.
func New(cfg *config.Config, sink output.Sink, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrConfiguration)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil output sink", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	c := &Core{
		cfg:              cfg,
		sink:             sink,
		console:          os.Stderr,
		exit:             os.Exit,
		stopPollInterval: DefaultStopPollInterval,
		stopTimeout:      DefaultStopTimeout,
		targets:          target.NewRegistry(),
		kb:               kb.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.plugins == nil {
		c.plugins = plugin.NewRegistry()
	}

	c.exceptions = exception.New(
		exception.WithLogger(c.logger),
		exception.WithNotify(c.onPluginFailure),
	)
	c.detector = fingerprint.New(fingerprint.WithLogger(c.logger))

	opener, err := c.newOpener()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.opener = opener
	c.pool = c.newPool()

	c.kb.Subscribe(c.onFinding)

	if err := c.ScanStartHook(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) newOpener() (*transport.Opener, error) {
	s := transport.SettingsFromConfig(c.cfg)
	s.Logger = c.logger
	s.Metrics = c.metrics
	for _, fn := range c.transportOpts {
		fn(&s)
	}
	return transport.New(s)
}

func (c *Core) newPool() *workerpool.Pool {
	return workerpool.New(c.cfg.WorkerThreads, workerpool.WithLogger(c.logger))
}

// onFinding forwards every new finding to the sink and the metrics.
func (c *Core) onFinding(f model.Finding) {
	c.metrics.FindingReported(string(f.Kind), strings.ToLower(f.Severity.String()))
	fs, ok := c.sink.(findingSink)
	if !ok {
		return
	}
	if err := fs.Finding(f); err != nil {
		c.logger.Warn("failed to deliver finding to output plugins", "finding", f.String(), "error", err)
	}
}

// onPluginFailure counts every captured plugin failure, including those
// beyond the storage limit of the handler.
func (c *Core) onPluginFailure(r exception.Record) {
	c.metrics.PluginFailed(r.Phase, r.Plugin)
}

// pluginLogger is the logger handed to plugins.
func (c *Core) pluginLogger() *slog.Logger {
	if src, ok := c.sink.(loggerSource); ok {
		return src.Logger()
	}
	return c.logger
}

// InitPlugins creates the instances of the enabled plugins and hands the
// output plugins to the sink. It must be called before every scan, since
// the end of a scan drops the instances.
func (c *Core) InitPlugins() error {
	if err := c.plugins.Init(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if setter, ok := c.sink.(outputSetter); ok {
		setter.SetOutputPlugins(c.plugins.Outputters())
	}
	return nil
}

// VerifyEnvironment checks that a scan can start. It has no side effects.
func (c *Core) VerifyEnvironment() error {
	if !c.plugins.Initialized() {
		return fmt.Errorf("%w: %w: call InitPlugins before starting a scan", ErrConfiguration, plugin.ErrNotInitialized)
	}
	if c.targets.Len() == 0 {
		return fmt.Errorf("%w: no target configured", ErrConfiguration)
	}
	for _, cat := range plugin.ScanCategories() {
		if c.plugins.HasEnabled(cat) {
			return nil
		}
	}
	return fmt.Errorf("%w: enable at least one audit, crawl, infrastructure or grep plugin", ErrConfiguration)
}

// Cleanup wipes the knowledge base. Targets, plugin selection, plugin
// options and misc settings are configuration and are left untouched.
func (c *Core) Cleanup() {
	c.kb.Cleanup()
}

// RunTime returns the minutes elapsed since the last Start. It is zero
// before the first Start.
func (c *Core) RunTime() float64 {
	started := c.currentSession().started()
	if started.IsZero() {
		return 0
	}
	return time.Since(started).Minutes()
}

func (c *Core) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Config returns the misc settings.
func (c *Core) Config() *config.Config { return c.cfg }

// Targets returns the target registry.
func (c *Core) Targets() *target.Registry { return c.targets }

// Plugins returns the plugin registry.
func (c *Core) Plugins() *plugin.Registry { return c.plugins }

// KB returns the knowledge base.
func (c *Core) KB() *kb.KnowledgeBase { return c.kb }

// Exceptions returns the plugin failures of the current or last scan.
func (c *Core) Exceptions() *exception.Handler { return c.exceptions }

// NotFound returns the soft-404 detector.
func (c *Core) NotFound() *fingerprint.Detector { return c.detector }

// Status returns the status of the current session.
func (c *Core) Status() *status.Status { return c.currentSession().status }

// Progress returns the progress of the current session.
func (c *Core) Progress() *status.Progress { return c.currentSession().progress }

// ScanID returns the identifier of the current session.
func (c *Core) ScanID() string { return c.currentSession().id }

// Opener returns the current transport.
func (c *Core) Opener() *transport.Opener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opener
}

// Pool returns the current worker pool.
func (c *Core) Pool() *workerpool.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// newSession builds the session of the next scan around the current
// transport and pool.
func (c *Core) newSession(opener *transport.Opener, pool *workerpool.Pool) *session {
	seq := model.NewSequence()
	opener.SetSequence(seq)

	st := status.New()
	pr := status.NewProgress()
	env := &plugin.Env{
		Opener:   opener,
		Pool:     pool,
		KB:       c.kb,
		NotFound: c.detector,
		Seq:      seq,
		Config:   c.cfg,
		Logger:   c.pluginLogger(),
		Targets:  c.targets.URLs(),
		ScanID:   uuid.NewString(),
	}
	strat := strategy.New(strategy.Deps{
		Plugins:    c.plugins,
		Env:        env,
		Status:     st,
		Progress:   pr,
		Exceptions: c.exceptions,
		Logger:     c.logger,
	}, c.strategyOpts...)

	return &session{
		id:       env.ScanID,
		seq:      seq,
		strategy: strat,
		status:   st,
		progress: pr,
		env:      env,
	}
}

// ensureDirs creates the home and temp directories.
func (c *Core) ensureDirs() error {
	var errs []error
	for _, dir := range []string{c.cfg.HomeDir, c.cfg.TempDir} {
		if err := config.EnsureDir(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrEnvironment, errors.Join(errs...))
	}
	return nil
}
