package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/nao1215/webscan/internal/exception"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/status"
	"github.com/nao1215/webscan/internal/transport"
)

// Default tuning values.
const (
	// DefaultGrepWorkers is the number of goroutines running grep plugins.
	DefaultGrepWorkers = 4

	// DefaultGrepBuffer is the number of responses queued for grep before
	// requests start waiting for the grep workers.
	DefaultGrepBuffer = 256

	// DefaultMemoryCheckInterval is how often the heap is compared with
	// the configured memory limit.
	DefaultMemoryCheckInterval = time.Second
)

var (
	// ErrResourceExhausted is returned by Start when the heap grew above
	// the configured memory limit.
	ErrResourceExhausted = errors.New("memory limit exceeded")

	// ErrTargetsUnreachable is the Reason of a scan in which no target
	// answered the initial request.
	ErrTargetsUnreachable = errors.New("no target is reachable")

	// ErrTransportStopped is the Reason of a scan whose transport was
	// stopped without the strategy being asked to stop.
	ErrTransportStopped = errors.New("transport stopped unexpectedly")
)

// Outcome tells how a scan ended.
type Outcome int

const (
	// Completed means every phase ran to its end.
	Completed Outcome = iota
	// StoppedByUser means Stop was called or the context was canceled.
	StoppedByUser
	// StoppedUnresolved means the scan hit a condition it could not work
	// around, such as unreachable targets. The scan still finalizes
	// normally.
	StoppedUnresolved
	// StoppedUnknown means the scan stopped for a reason nobody
	// anticipated.
	StoppedUnknown
)

// String returns the outcome name used in logs, reports and metrics.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case StoppedByUser:
		return "stopped_by_user"
	case StoppedUnresolved:
		return "stopped_unresolved"
	case StoppedUnknown:
		return "stopped_unknown"
	default:
		return "unknown"
	}
}

// Result describes a finished scan.
type Result struct {
	Outcome Outcome

	// Reason is the condition that stopped the scan. It is nil for
	// Completed and StoppedByUser.
	Reason error

	// URLs are the URLs the scan worked on, in discovery order.
	URLs []*url.URL
}

// Deps are the collaborators of a Strategy. Plugins and Env are required;
// the rest get fresh defaults when nil.
type Deps struct {
	Plugins    *plugin.Registry
	Env        *plugin.Env
	Status     *status.Status
	Progress   *status.Progress
	Exceptions *exception.Handler
	Logger     *slog.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithGrepWorkers sets the number of grep consumer goroutines.
func WithGrepWorkers(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.grepWorkers = n
		}
	}
}

// WithGrepBuffer sets how many responses may wait for grep.
func WithGrepBuffer(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.grepBuffer = n
		}
	}
}

// WithMemoryCheck sets how often and how the heap size is measured.
// A nil heap function keeps the runtime measurement.
func WithMemoryCheck(interval time.Duration, heap func() uint64) Option {
	return func(s *Strategy) {
		if interval > 0 {
			s.memoryInterval = interval
		}
		if heap != nil {
			s.heapSize = heap
		}
	}
}

// halt is the first control signal raised during a scan.
type halt struct {
	outcome Outcome
	err     error
}

// Strategy runs one scan. A Strategy is used for a single Start; the engine
// creates a new one for every scan.
type Strategy struct {
	deps   Deps
	logger *slog.Logger
	gate   *status.Gate

	grepWorkers    int
	grepBuffer     int
	memoryInterval time.Duration
	heapSize       func() uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
	halted   *halt
}

// New returns a Strategy that has not started.
func New(deps Deps, opts ...Option) *Strategy {
	if deps.Status == nil {
		deps.Status = status.New()
	}
	if deps.Progress == nil {
		deps.Progress = status.NewProgress()
	}
	if deps.Exceptions == nil {
		deps.Exceptions = exception.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Strategy{
		deps:           deps,
		logger:         deps.Logger,
		gate:           status.NewGate(),
		grepWorkers:    DefaultGrepWorkers,
		grepBuffer:     DefaultGrepBuffer,
		memoryInterval: DefaultMemoryCheckInterval,
		heapSize:       heapAlloc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the scan and blocks until it ends.
//
// The error is non-nil only for conditions that are not a normal end of a
// scan: ErrResourceExhausted, a closed worker pool, or any other failure of
// the strategy itself. Plugin errors never reach the caller; they are
// captured by the exception handler.
func (s *Strategy) Start(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return Result{Outcome: StoppedByUser}, nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	stopWatch := s.watchMemory(runCtx)
	stopGrep := s.startGrep(runCtx)

	r := newRun()
	err := s.execute(runCtx, r)

	stopGrep()
	stopWatch()
	s.deps.Status.SetCurrent("", "")

	return s.result(ctx, r, err)
}

// Stop asks the scan to end. Running plugin calls see their context
// canceled; no new call starts. It does not wait and is safe to call at any
// time, including before Start.
func (s *Strategy) Stop() {
	s.mu.Lock()
	s.stopping = true
	cancel := s.cancel
	s.mu.Unlock()

	s.gate.Pause(false)
	if cancel != nil {
		cancel()
	}
}

// Pause holds back new plugin calls while pause is true. Calls already
// running are not interrupted.
func (s *Strategy) Pause(pause bool) {
	s.gate.Pause(pause)
}

// phase is one stage of the scan.
type phase struct {
	name status.Phase
	do   func(ctx context.Context, r *run) error
}

// execute runs the phases in order.
//
// Design decision: cancellation is checked between phases and inside the
// job dispatch of each phase, never by interrupting a plugin call. Plugins
// observe the canceled context on their next request.
func (s *Strategy) execute(ctx context.Context, r *run) error {
	phases := []phase{
		{name: status.PhaseInfrastructure, do: s.infrastructure},
		{name: status.PhaseCrawl, do: s.crawl},
		{name: status.PhaseAudit, do: s.audit},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("scan interrupted", "phase", p.name, "reason", err)
			return nil
		}

		s.logger.Info("executing phase", "phase", p.name, "urls", r.len())
		s.deps.Status.SetPhase(p.name)

		if err := p.do(ctx, r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("phase failed", "phase", p.name, "error", err)
			return err
		}
		s.logger.Debug("phase completed", "phase", p.name, "urls", r.len())
	}
	return nil
}

// result maps the state left by a run to its Result.
func (s *Strategy) result(parent context.Context, r *run, err error) (Result, error) {
	res := Result{Outcome: Completed, URLs: r.snapshot()}

	s.mu.Lock()
	h := s.halted
	stopping := s.stopping
	s.mu.Unlock()

	switch {
	case h != nil:
		res.Outcome, res.Reason = h.outcome, h.err
		if errors.Is(h.err, ErrResourceExhausted) {
			return res, h.err
		}
	case stopping || parent.Err() != nil:
		res.Outcome = StoppedByUser
	case err != nil:
		return res, err
	case s.deps.Env.Opener.Stopped():
		res.Outcome, res.Reason = StoppedUnknown, ErrTransportStopped
	}
	return res, nil
}

// halt records the first control signal and cancels the run.
func (s *Strategy) halt(outcome Outcome, err error) {
	s.mu.Lock()
	if s.halted == nil && !s.stopping {
		s.halted = &halt{outcome: outcome, err: err}
		s.logger.Warn("scan must stop", "outcome", outcome.String(), "reason", err)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Strategy) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// control reports whether err is a control signal or a consequence of the
// scan stopping, raising the signal if it is one. Such errors are not
// plugin failures.
func (s *Strategy) control(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, plugin.ErrMustStopUnknown):
		s.halt(StoppedUnknown, err)
		return true
	case errors.Is(err, plugin.ErrMustStop), errors.Is(err, transport.ErrTooManyErrors):
		s.halt(StoppedUnresolved, err)
		return true
	case errors.Is(err, transport.ErrStopped):
		if !s.isStopping() && ctx.Err() == nil {
			s.halt(StoppedUnknown, fmt.Errorf("%w: %w", ErrTransportStopped, err))
		}
		return true
	case ctx.Err() != nil:
		return true
	}
	return false
}

// call runs one plugin call as a job: it waits while paused, records what is
// being worked on, and captures failures.
func (s *Strategy) call(ctx context.Context, ph status.Phase, p plugin.Plugin, u *url.URL, fn func(ctx context.Context) error) {
	defer s.deps.Progress.Done(1)

	if err := s.gate.Wait(ctx); err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.deps.Status.SetCurrent(p.Name(), u.String())
	//nolint:errcheck // the handler records the failure
	s.deps.Exceptions.Capture(string(ph), p.Name(), u.String(), func() error {
		err := fn(ctx)
		if err == nil || s.control(ctx, err) {
			return nil
		}
		return err
	})
}

// watchMemory halts the scan with ErrResourceExhausted once the heap grows
// above the configured limit. The returned function ends the watch.
func (s *Strategy) watchMemory(ctx context.Context) (stop func()) {
	cfg := s.deps.Env.Config
	if cfg == nil || cfg.MemoryLimit == 0 {
		return func() {}
	}
	limit := cfg.MemoryLimit

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.memoryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if heap := s.heapSize(); heap > limit {
					s.halt(StoppedUnknown, fmt.Errorf("%w: heap is %d bytes, limit is %d", ErrResourceExhausted, heap, limit))
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
