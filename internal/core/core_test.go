package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/metrics"
	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/output"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/strategy"
	"github.com/nao1215/webscan/internal/transport"
)

// fakeSink records everything the engine sends to it.
type fakeSink struct {
	mu       sync.Mutex
	infos    []string
	errs     []string
	debugs   []string
	findings []model.Finding
	enabled  int
	ended    int
	infoErr  error
	endPanic any
}

func (s *fakeSink) Debug(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugs = append(s.debugs, msg)
	return nil
}

func (s *fakeSink) Information(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, msg)
	return s.infoErr
}

func (s *fakeSink) Error(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
	return nil
}

func (s *fakeSink) LogEnabledPlugins(plugin.EnabledSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled++
	return nil
}

func (s *fakeSink) EndOutputPlugins(context.Context, *plugin.Env) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	if s.endPanic != nil {
		panic(s.endPanic)
	}
	return nil
}

func (s *fakeSink) Finding(f model.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

func (s *fakeSink) hasInfo(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.infos, func(m string) bool { return strings.HasPrefix(m, prefix) })
}

func (s *fakeSink) hasError(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.errs, func(m string) bool { return strings.Contains(m, substr) })
}

func (s *fakeSink) counts() (enabled, ended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.ended
}

// fakePlugin implements every scan interface; its category decides which
// one is used.
type fakePlugin struct {
	name     string
	cat      plugin.Category
	discover func(ctx context.Context, env *plugin.Env, u *url.URL) ([]*url.URL, error)
	audit    func(ctx context.Context, env *plugin.Env, u *url.URL) error
}

func (f *fakePlugin) Name() string              { return f.name }
func (f *fakePlugin) Category() plugin.Category { return f.cat }
func (f *fakePlugin) Description() string       { return "fake " + f.name }

func (f *fakePlugin) Discover(ctx context.Context, env *plugin.Env, u *url.URL) ([]*url.URL, error) {
	if f.discover == nil {
		return nil, nil
	}
	return f.discover(ctx, env, u)
}

func (f *fakePlugin) Audit(ctx context.Context, env *plugin.Env, u *url.URL) error {
	if f.audit == nil {
		return nil
	}
	return f.audit(ctx, env, u)
}

func (f *fakePlugin) Grep(context.Context, *plugin.Env, *transport.Response) error {
	return nil
}

// blockUntilCanceled is an audit plugin that signals started and waits for
// its context.
func blockUntilCanceled(started chan<- struct{}) *fakePlugin {
	return &fakePlugin{
		name: "wait",
		cat:  plugin.CategoryAudit,
		audit: func(ctx context.Context, _ *plugin.Env, _ *url.URL) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T, plugins ...*fakePlugin) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	for _, p := range plugins {
		if err := r.Register(func() plugin.Plugin { return p }); err != nil {
			t.Fatalf("Register(%s) failed: %v", p.name, err)
		}
		if err := r.SetEnabled(p.cat, append(r.Enabled(p.cat), p.name)...); err != nil {
			t.Fatalf("SetEnabled(%s) failed: %v", p.name, err)
		}
	}
	return r
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.HomeDir = filepath.Join(dir, "home")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.DBDir = filepath.Join(dir, "data")
	cfg.WorkerThreads = 4
	cfg.Timeout = 5 * time.Second
	return cfg
}

type harness struct {
	core    *Core
	sink    *fakeSink
	console *bytes.Buffer
	server  *httptest.Server

	mu        sync.Mutex
	exitCodes []int
}

func (h *harness) exits() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.exitCodes)
}

func newHarness(t *testing.T, sink output.Sink, reg *plugin.Registry, opts ...Option) *harness {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(srv.Close)

	h := &harness{console: &bytes.Buffer{}, server: srv}
	if fs, ok := sink.(*fakeSink); ok {
		h.sink = fs
	}

	base := []Option{
		WithLogger(discardLogger()),
		WithConsole(h.console),
		WithRegistry(reg),
		WithStopPolling(10*time.Millisecond, 5*time.Second),
		WithExitFunc(func(code int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.exitCodes = append(h.exitCodes, code)
		}),
	}
	c, err := New(testConfig(t), sink, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.core = c
	return h
}

func (h *harness) addTarget(t *testing.T) {
	t.Helper()
	if err := h.core.Targets().Add(h.server.URL); err != nil {
		t.Fatalf("Add target failed: %v", err)
	}
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if err := h.core.InitPlugins(); err != nil {
		t.Fatalf("InitPlugins failed: %v", err)
	}
}

func startAsync(ctx context.Context, c *Core) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx)
	}()
	return done
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()
		if _, err := New(nil, &fakeSink{}); !errors.Is(err, ErrConfiguration) {
			t.Errorf("New(nil) error = %v, want %v", err, ErrConfiguration)
		}
	})

	t.Run("nil sink", func(t *testing.T) {
		t.Parallel()
		if _, err := New(testConfig(t), nil); !errors.Is(err, ErrConfiguration) {
			t.Errorf("New error = %v, want %v", err, ErrConfiguration)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.WorkerThreads = 0
		if _, err := New(cfg, &fakeSink{}); !errors.Is(err, config.ErrInvalidWorkerThreads) {
			t.Errorf("New error = %v, want %v", err, config.ErrInvalidWorkerThreads)
		}
	})

	t.Run("creates directories", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		c, err := New(cfg, &fakeSink{}, WithLogger(discardLogger()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		for _, dir := range []string{cfg.HomeDir, cfg.TempDir} {
			if _, err := os.Stat(dir); err != nil {
				t.Errorf("directory %s was not created: %v", dir, err)
			}
		}
		if c.Pool().Size() != cfg.WorkerThreads {
			t.Errorf("pool size = %d, want %d", c.Pool().Size(), cfg.WorkerThreads)
		}
		if c.ScanID() == "" {
			t.Error("session has no scan ID")
		}
	})
}

func TestStartWithoutTarget(t *testing.T) {
	t.Parallel()

	crawled := false
	crawler := &fakePlugin{
		name: "crawl",
		cat:  plugin.CategoryCrawl,
		discover: func(context.Context, *plugin.Env, *url.URL) ([]*url.URL, error) {
			crawled = true
			return nil, nil
		},
	}
	h := newHarness(t, &fakeSink{}, newRegistry(t, crawler))
	h.init(t)

	err := h.core.Start(context.Background())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Start error = %v, want %v", err, ErrConfiguration)
	}
	if crawled {
		t.Error("plugin ran without a target")
	}
	if n := len(h.core.Opener().History()); n != 0 {
		t.Errorf("%d requests were made", n)
	}
	if enabled, _ := h.sink.counts(); enabled != 0 {
		t.Error("enabled plugins were announced for a scan that never started")
	}
	if !h.sink.hasError("no target configured") {
		t.Error("the configuration error was not reported to the output plugins")
	}
}

func TestStartWithoutScanPlugins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t))
	h.addTarget(t)
	h.init(t)

	if err := h.core.Start(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Start error = %v, want %v", err, ErrConfiguration)
	}
	if n := len(h.core.Opener().History()); n != 0 {
		t.Errorf("%d requests were made", n)
	}
}

func TestStartWithoutInitPlugins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}))
	h.addTarget(t)

	err := h.core.Start(context.Background())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Start error = %v, want %v", err, ErrConfiguration)
	}
	if !errors.Is(err, plugin.ErrNotInitialized) {
		t.Errorf("Start error = %v, want %v", err, plugin.ErrNotInitialized)
	}
}

func TestVerifyEnvironment(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t, &fakePlugin{name: "grep", cat: plugin.CategoryGrep}))
	if err := h.core.VerifyEnvironment(); !errors.Is(err, plugin.ErrNotInitialized) {
		t.Errorf("before init: %v", err)
	}

	h.init(t)
	if err := h.core.VerifyEnvironment(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("without target: %v", err)
	}

	h.addTarget(t)
	if err := h.core.VerifyEnvironment(); err != nil {
		t.Errorf("with target and grep plugin: %v", err)
	}
}

func TestCompletedScan(t *testing.T) {
	t.Parallel()

	auditor := &fakePlugin{
		name: "report",
		cat:  plugin.CategoryAudit,
		audit: func(_ context.Context, env *plugin.Env, u *url.URL) error {
			f := model.NewFinding(model.KindVuln, "exposed_git", "Git repository exposed", "found")
			f.URL = u.String()
			env.Report(&fakePlugin{name: "report"}, f)
			return nil
		},
	}
	reg := newRegistry(t, auditor)
	h := newHarness(t, &fakeSink{}, reg)
	h.addTarget(t)
	h.init(t)

	oldOpener, oldPool := h.core.Opener(), h.core.Pool()

	if err := h.core.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !h.sink.hasInfo("Scan finished in") {
		t.Error(`"Scan finished in" was not logged`)
	}
	if enabled, ended := h.sink.counts(); enabled != 1 || ended != 1 {
		t.Errorf("LogEnabledPlugins/EndOutputPlugins called %d/%d times, want 1/1", enabled, ended)
	}
	if got := h.core.KB().Len(); got != 1 {
		t.Errorf("KB has %d findings, want 1", got)
	}
	h.sink.mu.Lock()
	forwarded := len(h.sink.findings)
	h.sink.mu.Unlock()
	if forwarded != 1 {
		t.Errorf("%d findings forwarded to the sink, want 1", forwarded)
	}

	// The end of a scan replaces the transport and the pool.
	if h.core.Opener() == oldOpener {
		t.Error("transport was not replaced")
	}
	if h.core.Pool() == oldPool {
		t.Error("worker pool was not replaced")
	}
	if !oldOpener.Stopped() {
		t.Error("old transport was not ended")
	}
	if h.core.Opener().Stopped() {
		t.Error("new transport is already stopped")
	}
	if h.core.Targets().Len() != 0 {
		t.Error("targets were not cleared")
	}
	if h.core.Status().IsRunning() {
		t.Error("status still running")
	}
	if h.core.Plugins().Initialized() {
		t.Error("plugin instances survived the scan")
	}
	if got := reg.Enabled(plugin.CategoryAudit); !slices.Equal(got, []string{"report"}) {
		t.Errorf("plugin selection = %v, want [report]", got)
	}
	if h.core.RunTime() <= 0 {
		t.Error("RunTime is zero after a scan")
	}
}

func TestScanAgainKeepsConfiguration(t *testing.T) {
	t.Parallel()

	reports := 0
	var mu sync.Mutex
	auditor := &fakePlugin{
		name: "count",
		cat:  plugin.CategoryAudit,
		audit: func(_ context.Context, env *plugin.Env, u *url.URL) error {
			mu.Lock()
			reports++
			mu.Unlock()
			f := model.NewFinding(model.KindInfo, "server_header", "Server header", "seen")
			f.URL = u.String()
			env.Report(&fakePlugin{name: "count"}, f)
			return nil
		},
	}
	h := newHarness(t, &fakeSink{}, newRegistry(t, auditor))

	for i := range 2 {
		h.addTarget(t)
		h.init(t)
		if err := h.core.Start(context.Background()); err != nil {
			t.Fatalf("scan %d failed: %v", i+1, err)
		}
		// The second scan starts with an empty knowledge base.
		if got := h.core.KB().Len(); got != 1 {
			t.Errorf("scan %d: KB has %d findings, want 1", i+1, got)
		}
	}
	if reports != 2 {
		t.Errorf("plugin ran %d times, want 2", reports)
	}
}

func TestCleanupKeepsConfiguration(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl})
	h := newHarness(t, &fakeSink{}, reg)
	h.addTarget(t)
	if err := reg.SetOption(plugin.CategoryCrawl, "crawl", "depth", "3"); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}
	cfg := h.core.Config()
	cfg.MaxDepth = 4
	cfg.UserAgent = "custom"

	h.core.KB().Append(model.NewFinding(model.KindInfo, "t", "n", "d"))
	h.core.Cleanup()

	if h.core.KB().Len() != 0 {
		t.Error("Cleanup did not wipe the KB")
	}
	if h.core.Targets().Len() != 1 {
		t.Error("Cleanup cleared the targets")
	}
	if got := reg.Enabled(plugin.CategoryCrawl); !slices.Equal(got, []string{"crawl"}) {
		t.Errorf("plugin selection = %v", got)
	}
	if got := reg.Options(plugin.CategoryCrawl, "crawl")["depth"]; got != "3" {
		t.Errorf("plugin option = %q, want 3", got)
	}
	if cfg.MaxDepth != 4 || cfg.UserAgent != "custom" {
		t.Errorf("misc settings changed: depth=%d ua=%q", cfg.MaxDepth, cfg.UserAgent)
	}
}

func TestStopWhenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t))

	start := time.Now()
	h.core.Stop(context.Background())
	h.core.Stop(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v with no scan running", elapsed)
	}
	h.core.Pause(true)
	h.core.Pause(false)

	// A transport stopped while idle is replaced by the next scan.
	if !h.core.Opener().Stopped() {
		t.Fatal("Stop did not stop the transport")
	}
	if err := h.core.ScanStartHook(); err != nil {
		t.Fatalf("ScanStartHook failed: %v", err)
	}
	if h.core.Opener().Stopped() {
		t.Error("ScanStartHook kept a stopped transport")
	}
}

func TestUserStop(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	h := newHarness(t, &fakeSink{}, newRegistry(t, blockUntilCanceled(started)))
	h.addTarget(t)
	h.init(t)

	done := startAsync(context.Background(), h.core)
	<-started

	h.core.Pause(true)
	if !h.core.Status().IsPaused() {
		t.Error("status is not paused")
	}
	h.core.Pause(false)

	h.core.Stop(context.Background())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after a user stop", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if h.core.Status().IsRunning() {
		t.Error("status still running")
	}
	if !h.sink.hasInfo("Scan finished in") {
		t.Error(`"Scan finished in" was not logged`)
	}
	if !h.sink.hasInfo("The user stopped the scan.") {
		t.Error("user stop was not reported")
	}
}

func TestStopIsBounded(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	stubborn := &fakePlugin{
		name: "stubborn",
		cat:  plugin.CategoryAudit,
		audit: func(context.Context, *plugin.Env, *url.URL) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}
	h := newHarness(t, &fakeSink{}, newRegistry(t, stubborn),
		WithStopPolling(10*time.Millisecond, 200*time.Millisecond))
	h.addTarget(t)
	h.init(t)

	done := startAsync(context.Background(), h.core)
	<-started

	begin := time.Now()
	h.core.Stop(context.Background())
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, want about 200ms", elapsed)
	}
	if !h.core.Status().IsRunning() {
		t.Error("the scan should still be running while the plugin ignores the stop")
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestStopCanceledWait(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	stubborn := &fakePlugin{
		name: "stubborn",
		cat:  plugin.CategoryAudit,
		audit: func(context.Context, *plugin.Env, *url.URL) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}
	h := newHarness(t, &fakeSink{}, newRegistry(t, stubborn),
		WithStopPolling(10*time.Millisecond, time.Minute))
	h.addTarget(t)
	h.init(t)

	done := startAsync(context.Background(), h.core)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	h.core.Stop(ctx)
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("Stop ignored the canceled context for %v", elapsed)
	}

	close(release)
	<-done
}

func TestOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantErr   error
		wantError string
	}{
		{
			name:      "unresolved",
			err:       fmt.Errorf("session expired: %w", plugin.ErrMustStop),
			wantErr:   nil,
			wantError: "**IMPORTANT**",
		},
		{
			name:      "unknown",
			err:       fmt.Errorf("corrupted state: %w", plugin.ErrMustStopUnknown),
			wantErr:   ErrUnknownFailure,
			wantError: "unexpected reason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			signal := &fakePlugin{
				name: "signal",
				cat:  plugin.CategoryAudit,
				audit: func(context.Context, *plugin.Env, *url.URL) error {
					return tt.err
				},
			}
			h := newHarness(t, &fakeSink{}, newRegistry(t, signal))
			h.addTarget(t)
			h.init(t)
			oldPool := h.core.Pool()

			err := h.core.Start(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Start returned %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start error = %v, want %v", err, tt.wantErr)
			}
			if !h.sink.hasError(tt.wantError) {
				t.Errorf("no error message containing %q", tt.wantError)
			}
			if h.core.Pool() == oldPool {
				t.Error("scan end hook did not run")
			}
		})
	}
}

func TestResourceExhaustedFinalizes(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	h := newHarness(t, &fakeSink{}, newRegistry(t, blockUntilCanceled(started)),
		WithStrategyOptions(strategy.WithMemoryCheck(time.Millisecond, func() uint64 {
			return 1 << 40
		})))
	h.core.Config().MemoryLimit = 1 << 20
	h.addTarget(t)
	h.init(t)
	oldOpener, oldPool := h.core.Opener(), h.core.Pool()

	err := h.core.Start(context.Background())
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Start error = %v, want %v", err, ErrResourceExhausted)
	}
	if h.core.Opener() == oldOpener || h.core.Pool() == oldPool {
		t.Error("scan end hook did not run before the error was returned")
	}
	if h.core.Status().IsRunning() {
		t.Error("status still running")
	}
	if !h.sink.hasInfo("Scan finished in") {
		t.Error(`"Scan finished in" was not logged`)
	}
}

func TestUnhandledFinalizes(t *testing.T) {
	t.Parallel()

	// Shutting the pool down under the strategy makes the next phase fail.
	infra := &fakePlugin{
		name: "shutdown",
		cat:  plugin.CategoryInfrastructure,
		discover: func(_ context.Context, env *plugin.Env, _ *url.URL) ([]*url.URL, error) {
			env.Pool.Shutdown()
			return nil, nil
		},
	}
	crawler := &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}
	h := newHarness(t, &fakeSink{}, newRegistry(t, infra, crawler))
	h.addTarget(t)
	h.init(t)
	oldPool := h.core.Pool()

	err := h.core.Start(context.Background())
	if !errors.Is(err, ErrUnhandled) {
		t.Fatalf("Start error = %v, want %v", err, ErrUnhandled)
	}
	if h.core.Pool() == oldPool {
		t.Error("scan end hook did not run before the error was returned")
	}
	if h.core.Status().IsRunning() {
		t.Error("status still running")
	}
	if h.core.Targets().Len() != 0 {
		t.Error("targets were not cleared")
	}
}

func TestFinishedMessageFallsBackToConsole(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{infoErr: errors.New("disk full")}
	h := newHarness(t, sink, newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}))
	h.addTarget(t)
	h.init(t)

	if err := h.core.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !strings.Contains(h.console.String(), "Scan finished in") {
		t.Errorf("console = %q, want the finished message", h.console.String())
	}
}

func TestUnusableDirectoryExits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}))
	h.addTarget(t)
	h.init(t)

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	h.core.Config().HomeDir = filepath.Join(file, "home")

	err := h.core.Start(context.Background())
	if !errors.Is(err, ErrEnvironment) {
		t.Fatalf("Start error = %v, want %v", err, ErrEnvironment)
	}
	if got := h.exits(); !slices.Equal(got, []int{ExitEnvironment}) {
		t.Errorf("exit codes = %v, want [%d]", got, ExitEnvironment)
	}
	if n := len(h.core.Opener().History()); n != 0 {
		t.Errorf("%d requests were made", n)
	}
}

func TestQuitRemovesTempDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t))
	tmp := h.core.Config().TempDir
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("temp dir missing: %v", err)
	}

	h.core.Quit(context.Background())
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("temp dir still exists: %v", err)
	}
}

func TestRunTimeBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t))
	if got := h.core.RunTime(); got != 0 {
		t.Errorf("RunTime = %v, want 0", got)
	}
}

// outputRecorder is an output plugin that remembers how it was ended.
type outputRecorder struct {
	mu       sync.Mutex
	outcome  string
	scanID   string
	history  int
	findings int
	logs     []string
}

func (o *outputRecorder) Name() string              { return "recorder" }
func (o *outputRecorder) Category() plugin.Category { return plugin.CategoryOutput }
func (o *outputRecorder) Description() string       { return "records the end of the scan" }

func (o *outputRecorder) Log(msg plugin.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, msg.Text)
	return nil
}

func (o *outputRecorder) LogEnabledPlugins(plugin.EnabledSet) error { return nil }

func (o *outputRecorder) Finding(model.Finding) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.findings++
	return nil
}

func (o *outputRecorder) End(_ context.Context, env *plugin.Env) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcome = env.Outcome
	o.scanID = env.ScanID
	o.history = len(env.Opener.History())
	return nil
}

func TestOutputPluginsSeeTheScan(t *testing.T) {
	t.Parallel()

	rec := &outputRecorder{}
	auditor := &fakePlugin{
		name: "fetch",
		cat:  plugin.CategoryAudit,
		audit: func(ctx context.Context, env *plugin.Env, u *url.URL) error {
			if _, err := env.Opener.Get(ctx, u); err != nil {
				return err
			}
			f := model.NewFinding(model.KindInfo, "server_header", "Server header", "seen")
			f.URL = u.String()
			env.Report(&fakePlugin{name: "fetch"}, f)
			return nil
		},
	}
	reg := newRegistry(t, auditor)
	if err := reg.Register(func() plugin.Plugin { return rec }); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetEnabled(plugin.CategoryOutput, "recorder"); err != nil {
		t.Fatal(err)
	}

	sink := output.NewManager(discardLogger())
	h := newHarness(t, sink, reg)
	h.addTarget(t)
	h.init(t)
	scanID := h.core.ScanID()

	if err := h.core.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.outcome != strategy.Completed.String() {
		t.Errorf("outcome = %q, want %q", rec.outcome, strategy.Completed.String())
	}
	if rec.scanID == "" || rec.scanID == scanID {
		t.Errorf("scan ID = %q, want the ID of the new session", rec.scanID)
	}
	if rec.history == 0 {
		t.Error("transport history was gone before output plugins ended")
	}
	if rec.findings != 1 {
		t.Errorf("output plugin received %d findings, want 1", rec.findings)
	}
	if !slices.ContainsFunc(rec.logs, func(s string) bool { return strings.HasPrefix(s, "Scan finished in") }) {
		t.Error("output plugin did not receive the finished message")
	}
	if len(sink.OutputPlugins()) != 0 {
		t.Error("output plugins were not removed from the sink")
	}
}

// crashingOutput is an output plugin whose End panics.
type crashingOutput struct{ outputRecorder }

func (o *crashingOutput) Name() string { return "crash" }

func (o *crashingOutput) End(context.Context, *plugin.Env) error {
	panic("report writer crashed")
}

// assertFinalized checks everything the end of a scan must leave behind.
func assertFinalized(t *testing.T, h *harness, oldOpener *transport.Opener, oldPool any) {
	t.Helper()

	if h.core.Opener() == oldOpener {
		t.Error("transport was not replaced")
	}
	if !oldOpener.Stopped() {
		t.Error("old transport was not ended")
	}
	if any(h.core.Pool()) == oldPool {
		t.Error("worker pool was not replaced")
	}
	if h.core.Targets().Len() != 0 {
		t.Errorf("targets after scan: %d, want 0", h.core.Targets().Len())
	}
	if h.core.Status().IsRunning() {
		t.Error("status still running")
	}
	if h.core.Progress().IsRunning() {
		t.Error("progress still running")
	}
	if h.core.Plugins().Initialized() {
		t.Error("plugin instances survived the scan")
	}
}

func TestOutputPanicFinalizes(t *testing.T) {
	t.Parallel()

	t.Run("output plugin panics", func(t *testing.T) {
		t.Parallel()

		reg := newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl})
		crash := &crashingOutput{}
		if err := reg.Register(func() plugin.Plugin { return crash }); err != nil {
			t.Fatal(err)
		}
		if err := reg.SetEnabled(plugin.CategoryOutput, "crash"); err != nil {
			t.Fatal(err)
		}
		h := newHarness(t, output.NewManager(discardLogger()), reg)
		h.addTarget(t)
		h.init(t)
		oldOpener, oldPool := h.core.Opener(), h.core.Pool()

		err := h.core.Start(context.Background())
		if !errors.Is(err, output.ErrPanic) {
			t.Fatalf("Start error = %v, want %v", err, output.ErrPanic)
		}
		assertFinalized(t, h, oldOpener, oldPool)
	})

	t.Run("sink panics", func(t *testing.T) {
		t.Parallel()

		sink := &fakeSink{endPanic: "sink crashed"}
		h := newHarness(t, sink, newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}))
		h.addTarget(t)
		h.init(t)
		oldOpener, oldPool := h.core.Opener(), h.core.Pool()

		err := h.core.Start(context.Background())
		if !errors.Is(err, ErrUnhandled) {
			t.Fatalf("Start error = %v, want %v", err, ErrUnhandled)
		}
		if !strings.Contains(err.Error(), "sink crashed") {
			t.Errorf("error %q does not carry the panic value", err)
		}
		assertFinalized(t, h, oldOpener, oldPool)
	})
}

// waitLaunching waits until Start has begun preparing the scan.
func waitLaunching(t *testing.T, c *Core) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		launching := c.launching
		c.mu.Unlock()
		if launching {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Start did not begin")
}

func TestStopDuringLaunch(t *testing.T) {
	t.Parallel()

	for i := range 5 {
		t.Run(fmt.Sprintf("attempt %d", i+1), func(t *testing.T) {
			t.Parallel()

			started := make(chan struct{}, 1)
			h := newHarness(t, &fakeSink{}, newRegistry(t, blockUntilCanceled(started)))
			h.addTarget(t)
			h.init(t)

			done := startAsync(context.Background(), h.core)
			waitLaunching(t, h.core)
			h.core.Stop(context.Background())

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Start returned %v after a user stop", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("scan still running 5s after Stop; status running=%v", h.core.Status().IsRunning())
			}
			if !h.sink.hasInfo("The user stopped the scan.") {
				t.Error("user stop was not reported")
			}
		})
	}
}

func TestPendingStopIsAppliedToTheNewSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSink{}, newRegistry(t, &fakePlugin{name: "crawl", cat: plugin.CategoryCrawl}))
	h.addTarget(t)
	h.init(t)

	// Stop arrives after Start began but before the session is replaced.
	h.core.mu.Lock()
	h.core.launching = true
	h.core.stopPending = true
	h.core.mu.Unlock()
	if err := h.core.ScanStartHook(); err != nil {
		t.Fatalf("ScanStartHook failed: %v", err)
	}
	if !h.core.takePendingStop() {
		t.Fatal("the pending stop was lost by ScanStartHook")
	}
	if h.core.takePendingStop() {
		t.Error("a pending stop is applied only once")
	}

	h.core.setLaunching(false)
	if h.core.scanActive() {
		t.Error("scan reported active after Start ended")
	}
}

func TestExceptionLog(t *testing.T) {
	t.Parallel()

	errBroken := errors.New("parser broke")
	failing := &fakePlugin{
		name: "broken",
		cat:  plugin.CategoryAudit,
		audit: func(context.Context, *plugin.Env, *url.URL) error {
			return errBroken
		},
	}
	m := metrics.New()
	h := newHarness(t, &fakeSink{}, newRegistry(t, failing), WithMetrics(m))
	h.addTarget(t)
	h.init(t)

	if err := h.core.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The failures of a finished scan stay readable.
	recs := h.core.Exceptions().Records()
	if len(recs) != 1 {
		t.Fatalf("exception records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Plugin != "broken" || rec.Phase != "audit" || !errors.Is(rec.Err, errBroken) {
		t.Errorf("unexpected record: %s", rec)
	}
	if rec.Stack == "" {
		t.Error("record has no stack")
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if want := `webscan_plugin_errors_total{phase="audit",plugin="broken"} 1`; !strings.Contains(rr.Body.String(), want) {
		t.Errorf("metrics do not contain %q", want)
	}

	// The next scan starts with an empty log.
	if err := h.core.ScanStartHook(); err != nil {
		t.Fatalf("ScanStartHook failed: %v", err)
	}
	if n := h.core.Exceptions().Len(); n != 0 {
		t.Errorf("exception log has %d records after ScanStartHook, want 0", n)
	}
}
