package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/metrics"
	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/status"
	"golang.org/x/time/rate"
)

// DefaultHistoryLimit is the number of responses kept in the history.
const DefaultHistoryLimit = 10000

// maxRedirects limits redirect chains to prevent loops.
const maxRedirects = 10

// Settings configures an Opener.
type Settings struct {
	Timeout              time.Duration
	UserAgent            string
	ProxyAddress         string
	RateLimit            float64
	MaxBodySize          int64
	MaxConsecutiveErrors int
	HistoryLimit         int

	// Site returns the headers and cookie to inject for a host.
	// When nil, nothing is injected.
	Site func(host string) config.SiteConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RoundTripper replaces the network transport. Tests use it to avoid
	// real connections; ProxyAddress is ignored when it is set.
	RoundTripper http.RoundTripper
}

// SettingsFromConfig builds Settings from the misc configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Timeout:              cfg.Timeout,
		UserAgent:            cfg.UserAgent,
		ProxyAddress:         cfg.ProxyAddress,
		RateLimit:            cfg.RateLimit,
		MaxBodySize:          cfg.MaxBodySize,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		Site:                 cfg.SiteFor,
	}
}

// Response is one completed HTTP exchange.
type Response struct {
	// ID is unique within a scan session.
	ID         int64
	Method     string
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
	// Truncated is true when the body exceeded MaxBodySize.
	Truncated bool
	Duration  time.Duration
	At        time.Time
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Opener performs HTTP requests for one scan session.
//
// Design decision: an Opener is never restarted after Stop. Requests still
// in flight from a stopped scan hold references to it, so reusing it would
// let them leak into the next scan. The engine builds a new Opener instead.
type Opener struct {
	client   *http.Client
	dial     dialFunc
	settings Settings
	limiter  *rate.Limiter
	logger   *slog.Logger
	gate     *status.Gate
	seq      atomic.Pointer[model.Sequence]

	ctx    context.Context
	cancel context.CancelFunc

	consecutiveErrors atomic.Int64

	mu           sync.Mutex
	history      []*Response
	observers    map[int]func(*Response)
	nextObserver int
}

// New creates an Opener. It does not contact the proxy or any target.
func New(s Settings) (*Opener, error) {
	if s.Timeout <= 0 {
		s.Timeout = config.DefaultTimeout
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}

	dial, err := newDialFunc(s)
	if err != nil {
		return nil, err
	}
	rt := s.RoundTripper
	if rt == nil {
		rt = newHTTPTransport(dial)
	}
	rt = &headerInjectingTransport{base: rt, userAgent: s.UserAgent, site: s.Site}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	o := &Opener{
		client: &http.Client{
			Transport: rt,
			Timeout:   s.Timeout,
			Jar:       jar,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		dial:      dial,
		settings:  s,
		logger:    s.Logger,
		gate:      status.NewGate(),
		observers: make(map[int]func(*Response)),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if s.RateLimit > 0 {
		burst := int(s.RateLimit)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(s.RateLimit), burst)
	}
	o.seq.Store(model.NewSequence())
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// newDialFunc returns the dialer of every connection the opener makes,
// routed through the SOCKS5 proxy when one is configured.
func newDialFunc(s Settings) (dialFunc, error) {
	if s.ProxyAddress == "" {
		return (&net.Dialer{Timeout: s.Timeout}).DialContext, nil
	}
	d, err := newProxyDialer(s.ProxyAddress, s.Timeout)
	if err != nil {
		return nil, err
	}
	return d.DialContext, nil
}

// newHTTPTransport builds the network transport on top of dial.
//
// TLS verification is disabled: scan targets are frequently staging hosts
// with self-signed certificates, and certificate problems are something to
// report, not a reason to stop.
func newHTTPTransport(dial dialFunc) *http.Transport {
	return &http.Transport{
		DialContext: dial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Scanner must reach hosts with invalid certificates
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
	}
}

// SetSequence sets the sequence response IDs are drawn from. The engine
// passes the sequence of the current scan session.
func (o *Opener) SetSequence(seq *model.Sequence) {
	if seq != nil {
		o.seq.Store(seq)
	}
}

// Get fetches u.
func (o *Opener) Get(ctx context.Context, u *url.URL) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return o.Do(req)
}

// Do sends req and reads the response body up to MaxBodySize.
//
// The request is canceled when the opener is stopped. Failures without a
// response count towards the consecutive-error ceiling; any response, even
// an error status, resets it.
func (o *Opener) Do(req *http.Request) (*Response, error) {
	if o.Stopped() {
		return nil, ErrStopped
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	unlink := context.AfterFunc(o.ctx, cancel)
	defer unlink()

	if err := o.gate.Wait(ctx); err != nil {
		return nil, o.classify(err)
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, o.classify(err)
		}
	}

	start := time.Now()
	resp, err := o.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, o.failed(req, err)
	}
	defer resp.Body.Close()

	body, truncated, err := o.readBody(resp.Body)
	if err != nil {
		return nil, o.failed(req, err)
	}
	o.consecutiveErrors.Store(0)

	r := &Response{
		ID:         o.seq.Load().Next(),
		Method:     req.Method,
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(start),
		At:         start,
	}
	o.settings.Metrics.RequestDone(r.StatusCode, r.Duration)
	o.logger.Debug("response received",
		"id", r.ID,
		"method", r.Method,
		"url", r.URL.String(),
		"status", r.StatusCode,
		"bytes", len(r.Body),
	)

	o.record(r)
	return r, nil
}

// DialContext opens a raw connection the way requests are sent, through
// the proxy when one is configured. Pause and Stop apply as they do to Do.
// Connections are not part of the history and do not count as request
// errors.
func (o *Opener) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if o.Stopped() {
		return nil, ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(o.ctx, cancel)
	defer unlink()

	if err := o.gate.Wait(ctx); err != nil {
		return nil, o.classify(err)
	}
	conn, err := o.dial(ctx, network, address)
	if err != nil {
		return nil, o.classify(err)
	}
	return conn, nil
}

func (o *Opener) readBody(body io.Reader) ([]byte, bool, error) {
	limit := o.settings.MaxBodySize
	if limit <= 0 {
		limit = config.DefaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// classify maps a context error caused by Stop to ErrStopped.
func (o *Opener) classify(err error) error {
	if o.Stopped() {
		return ErrStopped
	}
	return err
}

func (o *Opener) failed(req *http.Request, err error) error {
	if o.Stopped() {
		return ErrStopped
	}
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		// The caller gave up; the target is not at fault.
		return err
	}

	o.settings.Metrics.RequestFailed()
	n := o.consecutiveErrors.Add(1)
	o.logger.Debug("request failed", "url", req.URL.String(), "error", err, "consecutive", n)

	limit := o.settings.MaxConsecutiveErrors
	if limit > 0 && n >= int64(limit) {
		return fmt.Errorf("%w (%d): %w", ErrTooManyErrors, n, err)
	}
	return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
}

func (o *Opener) record(r *Response) {
	o.mu.Lock()
	if len(o.history) >= o.settings.HistoryLimit {
		o.history = o.history[1:]
	}
	o.history = append(o.history, r)
	observers := make([]func(*Response), 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.mu.Unlock()

	for _, fn := range observers {
		fn(r)
	}
}

// OnResponse registers fn to be called with every response. fn runs on the
// requesting goroutine and must not block. The returned function removes it.
func (o *Opener) OnResponse(fn func(*Response)) (remove func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObserver
	o.nextObserver++
	o.observers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// History returns the recorded responses, oldest first.
func (o *Opener) History() []*Response {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Response, len(o.history))
	copy(out, o.history)
	return out
}

// Pause blocks new requests while pause is true.
func (o *Opener) Pause(pause bool) {
	o.gate.Pause(pause)
}

// Stop cancels in-flight requests and rejects new ones. It is safe to call
// more than once.
func (o *Opener) Stop() {
	o.cancel()
	o.gate.Pause(false)
}

// Stopped reports whether Stop or End was called.
func (o *Opener) Stopped() bool {
	return o.ctx.Err() != nil
}

// End stops the opener, drops the history and observers, and closes idle
// connections.
func (o *Opener) End() {
	o.Stop()

	o.mu.Lock()
	o.history = nil
	o.observers = make(map[int]func(*Response))
	o.mu.Unlock()

	o.client.CloseIdleConnections()
}

// headerInjectingTransport wraps an http.RoundTripper to inject the user
// agent and the per-host headers and cookie into every request, including
// redirects.
type headerInjectingTransport struct {
	base      http.RoundTripper
	userAgent string
	site      func(host string) config.SiteConfig
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if t.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}

	if t.site != nil {
		site := t.site(clone.URL.Hostname())
		if site.Cookie != "" {
			if existing := clone.Header.Get("Cookie"); existing != "" {
				clone.Header.Set("Cookie", existing+"; "+site.Cookie)
			} else {
				clone.Header.Set("Cookie", site.Cookie)
			}
		}
		for key, value := range site.Headers {
			clone.Header.Set(key, value)
		}
	}

	return t.base.RoundTrip(clone)
}
