package strategy

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/status"
	"github.com/nao1215/webscan/internal/transport"
	"golang.org/x/sync/errgroup"
)

// run holds the URLs known to one scan, deduplicated by normalized form.
type run struct {
	mu   sync.Mutex
	seen map[string]struct{}
	urls []*url.URL
}

func newRun() *run {
	return &run{seen: make(map[string]struct{})}
}

// add records u and reports whether it was new.
func (r *run) add(u *url.URL) bool {
	key := normalizeURL(u)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	r.urls = append(r.urls, u)
	return true
}

func (r *run) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}

func (r *run) snapshot() []*url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*url.URL, len(r.urls))
	copy(out, r.urls)
	return out
}

// normalizeURL returns the form of u used for deduplication: lowercase
// scheme and host, no fragment, and "/" for an empty path.
func normalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" {
		n.Path = "/"
	}
	return n.String()
}

// accept adds u to the run when it is an in-scope HTTP URL not seen before.
func (s *Strategy) accept(r *run, u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !s.deps.Env.InScope(u) {
		return false
	}
	return r.add(u)
}

// infrastructure checks that at least one target answers, then runs the
// infrastructure plugins once per reachable target.
func (s *Strategy) infrastructure(ctx context.Context, r *run) error {
	s.checkTargets(ctx, r)
	if ctx.Err() != nil {
		return nil
	}

	plugins := s.deps.Plugins.Discoverers(plugin.CategoryInfrastructure)
	if len(plugins) == 0 {
		return nil
	}

	found, err := s.discover(ctx, status.PhaseInfrastructure, plugins, r.snapshot())
	for _, u := range found {
		s.accept(r, u)
	}
	return err
}

// checkTargets requests every target once. Targets that fail are left out
// of the scan; when none answers the scan stops as unresolved.
func (s *Strategy) checkTargets(ctx context.Context, r *run) {
	targets := s.deps.Env.Targets
	reachable := 0
	for _, t := range targets {
		if err := s.gate.Wait(ctx); err != nil {
			return
		}

		_, err := s.deps.Env.Opener.Get(ctx, t)
		if err != nil {
			if s.control(ctx, err) {
				return
			}
			s.logger.Warn("target is not reachable", "target", t.String(), "error", err)
			continue
		}
		reachable++
		r.add(t)
	}

	if reachable == 0 {
		s.halt(StoppedUnresolved, ErrTargetsUnreachable)
	}
}

// crawl discovers URLs breadth first. Each round runs every crawl plugin on
// the URLs found by the previous round. It stops at the depth limit, when a
// round finds nothing new, or when the discovery time is used up; the last
// case is not an error and the audit phase runs with what was found.
func (s *Strategy) crawl(ctx context.Context, r *run) error {
	plugins := s.deps.Plugins.Discoverers(plugin.CategoryCrawl)
	if len(plugins) == 0 {
		return nil
	}

	maxDepth := 0
	crawlCtx := ctx
	if cfg := s.deps.Env.Config; cfg != nil {
		maxDepth = cfg.MaxDepth
		if cfg.MaxDiscoveryTime > 0 {
			var cancel context.CancelFunc
			crawlCtx, cancel = context.WithTimeout(ctx, cfg.MaxDiscoveryTime)
			defer cancel()
		}
	}

	frontier := r.snapshot()
	for depth := 0; len(frontier) > 0; depth++ {
		found, err := s.discover(crawlCtx, status.PhaseCrawl, plugins, frontier)
		if ctx.Err() != nil {
			return nil
		}
		if crawlCtx.Err() != nil {
			s.logger.Info("discovery time limit reached", "urls", r.len(), "depth", depth)
			return nil
		}
		if err != nil {
			return err
		}

		var next []*url.URL
		if depth < maxDepth {
			for _, u := range found {
				if s.accept(r, u) {
					next = append(next, u)
				}
			}
		}
		s.logger.Debug("crawl round finished", "depth", depth, "crawled", len(frontier), "new", len(next))
		frontier = next
	}
	return nil
}

// discover runs every plugin on every URL on the worker pool and returns
// the URLs they found, unfiltered.
func (s *Strategy) discover(ctx context.Context, ph status.Phase, plugins []plugin.Discoverer, urls []*url.URL) ([]*url.URL, error) {
	var (
		mu    sync.Mutex
		found []*url.URL
	)

	s.deps.Progress.AddTotal(len(plugins) * len(urls))
	g, _ := s.deps.Env.Pool.NewGroup(ctx)
	for _, u := range urls {
		for _, p := range plugins {
			g.Go(func(ctx context.Context) error {
				s.call(ctx, ph, p, u, func(ctx context.Context) error {
					more, err := p.Discover(ctx, s.deps.Env, u)
					if len(more) > 0 {
						mu.Lock()
						found = append(found, more...)
						mu.Unlock()
					}
					return err
				})
				return nil
			})
		}
	}
	err := g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return found, err
}

// audit runs every audit plugin against every known URL.
func (s *Strategy) audit(ctx context.Context, r *run) error {
	auditors := s.deps.Plugins.Auditors()
	if len(auditors) == 0 {
		return nil
	}

	urls := r.snapshot()
	s.primeNotFound(ctx, urls)
	s.deps.Progress.AddTotal(len(auditors) * len(urls))
	g, _ := s.deps.Env.Pool.NewGroup(ctx)
	for _, u := range urls {
		for _, a := range auditors {
			g.Go(func(ctx context.Context) error {
				s.call(ctx, status.PhaseAudit, a, u, func(ctx context.Context) error {
					return a.Audit(ctx, s.deps.Env, u)
				})
				return nil
			})
		}
	}
	return g.Wait()
}

// primeNotFound learns the 404 signature of every directory before the
// audit plugins ask for it. It runs on the strategy goroutine since Prime
// waits on the worker pool.
func (s *Strategy) primeNotFound(ctx context.Context, urls []*url.URL) {
	d := s.deps.Env.NotFound
	if d == nil || !d.Bound() {
		return
	}
	if err := d.Prime(ctx, urls); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to learn 404 signatures", "error", err)
	}
}

// startGrep feeds every response of the opener to the grep plugins until
// the returned function is called. That function waits until the queued
// responses were inspected, unless ctx is done first.
func (s *Strategy) startGrep(ctx context.Context) (stop func()) {
	greppers := s.deps.Plugins.Greppers()
	if len(greppers) == 0 {
		return func() {}
	}

	responses := make(chan *transport.Response, s.grepBuffer)
	quit := make(chan struct{})
	remove := s.deps.Env.Opener.OnResponse(func(resp *transport.Response) {
		select {
		case responses <- resp:
		case <-quit:
		case <-ctx.Done():
		}
	})

	var g errgroup.Group
	for range s.grepWorkers {
		g.Go(func() error {
			for {
				select {
				case resp := <-responses:
					s.grep(ctx, greppers, resp)
				case <-quit:
					s.drainGrep(ctx, greppers, responses)
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	return func() {
		remove()
		close(quit)
		_ = g.Wait() //nolint:errcheck // workers always return nil
	}
}

func (s *Strategy) drainGrep(ctx context.Context, greppers []plugin.Grepper, responses <-chan *transport.Response) {
	for {
		select {
		case resp := <-responses:
			s.grep(ctx, greppers, resp)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

func (s *Strategy) grep(ctx context.Context, greppers []plugin.Grepper, resp *transport.Response) {
	for _, g := range greppers {
		if ctx.Err() != nil {
			return
		}
		//nolint:errcheck // the handler records the failure
		s.deps.Exceptions.Capture("grep", g.Name(), resp.URL.String(), func() error {
			err := g.Grep(ctx, s.deps.Env, resp)
			if err == nil || s.control(ctx, err) {
				return nil
			}
			return err
		})
	}
}
