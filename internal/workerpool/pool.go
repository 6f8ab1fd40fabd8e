// Package workerpool provides the fixed-size goroutine pool that runs scan
// jobs. A pool is created with a size and never resized; a scan that needs a
// clean pool gets a new one instead.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when submitting to a pool that was shut down.
var ErrClosed = errors.New("worker pool is closed")

// PanicHandler receives a recovered panic value and the stack of the
// goroutine that panicked.
type PanicHandler func(recovered any, stack []byte)

// Pool is a fixed set of worker goroutines consuming submitted tasks.
//
// Design decision: tasks are plain closures rather than a Job interface.
// Scan jobs already carry their own context (plugin, URL, phase) in the
// closure, and results flow back through the knowledge base, not through
// the pool.
//
// Submit must not be called from inside a task of the same pool with a
// context that never ends: when every worker is busy, it blocks.
type Pool struct {
	size    int
	tasks   chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	active  atomic.Int64
	onPanic PanicHandler
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithPanicHandler sets the function called when a task panics.
// Without one, the panic is logged and the worker keeps running.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *Pool) {
		p.onPanic = h
	}
}

// WithLogger sets the logger used for pool events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New starts a pool with size workers. A size below 1 is treated as 1.
func New(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:  size,
		tasks: make(chan func(), size),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	p.wg.Add(size)
	for range size {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		// Shutdown takes priority over queued tasks.
		select {
		case <-p.quit:
			return
		default:
		}

		select {
		case <-p.quit:
			return
		case fn := <-p.tasks:
			p.run(fn)
		}
	}
}

func (p *Pool) run(fn func()) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if p.onPanic != nil {
				p.onPanic(r, stack)
				return
			}
			p.logger.Error("worker task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Submit queues fn for execution. It blocks while the queue is full and
// returns ctx.Err() or ErrClosed if the task could not be queued.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}

	select {
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// Shutdown stops the workers without waiting for them. Running tasks finish;
// queued tasks are dropped. It is safe to call more than once.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		close(p.quit)
	})
}

// Close shuts the pool down and waits for running tasks to return.
func (p *Pool) Close() {
	p.Shutdown()
	p.wg.Wait()
}

// Group runs a set of tasks on a pool and waits for all of them.
// The first error cancels the group's context; Wait returns it.
type Group struct {
	pool *Pool
	eg   *errgroup.Group
	ctx  context.Context
}

// NewGroup returns a Group bound to p and a context derived from ctx that
// is canceled when a task fails.
//
// At most p.Size() tasks are in flight per group; Go blocks beyond that.
func (p *Pool) NewGroup(ctx context.Context) (*Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.size)
	return &Group{pool: p, eg: eg, ctx: gctx}, gctx
}

// Go runs fn on a pool worker.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		done := make(chan error, 1)
		err := g.pool.Submit(g.ctx, func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
				}
			}()
			done <- fn(g.ctx)
		})
		if err != nil {
			return err
		}
		select {
		case err := <-done:
			return err
		case <-g.pool.quit:
			return ErrClosed
		}
	})
}

// Wait blocks until every task submitted with Go has returned.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
