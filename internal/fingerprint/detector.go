// Package fingerprint detects "soft 404" pages: error pages a server returns
// with a success status for paths that do not exist.
//
// For every directory it is asked about, the Detector requests a path that
// cannot exist and remembers the answer. A response is considered a 404 when
// its status is 404 or its body is nearly identical to that answer.
package fingerprint

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nao1215/webscan/internal/transport"
	"github.com/nao1215/webscan/internal/workerpool"
)

// DefaultThreshold is the body similarity above which a page is treated as
// the server's error page.
const DefaultThreshold = 0.90

// ErrNotBound is returned when the detector is used before Reset.
var ErrNotBound = errors.New("404 detector is not bound to a transport")

// Fetcher performs GET requests. *transport.Opener implements it.
type Fetcher interface {
	Get(ctx context.Context, u *url.URL) (*transport.Response, error)
}

// signature is the remembered answer for a missing path in one directory.
type signature struct {
	ready chan struct{}
	// realNotFound is true when the server answers missing paths with 404.
	realNotFound bool
	words        map[string]struct{}
	err          error
}

// Detector is a soft-404 detector. It lives as long as the engine; Reset
// binds it to the transport and pool of a new scan and forgets everything
// learned during the previous one.
type Detector struct {
	mu        sync.Mutex
	fetcher   Fetcher
	pool      *workerpool.Pool
	cache     map[string]*signature
	threshold float64
	logger    *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithThreshold sets the similarity threshold in (0, 1].
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// New returns an unbound detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		cache:     make(map[string]*signature),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Reset drops all learned signatures and binds the detector to fetcher and pool.
func (d *Detector) Reset(fetcher Fetcher, pool *workerpool.Pool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fetcher = fetcher
	d.pool = pool
	d.cache = make(map[string]*signature)
}

// Bound reports whether Reset has been called with a fetcher.
func (d *Detector) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetcher != nil
}

// Prime learns the signatures of the directories of urls in parallel on
// the worker pool. It must not be called from a task running on that pool.
func (d *Detector) Prime(ctx context.Context, urls []*url.URL) error {
	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()
	if pool == nil {
		return ErrNotBound
	}

	g, gctx := pool.NewGroup(ctx)
	for _, u := range urls {
		g.Go(func(context.Context) error {
			// A failed probe only means we learn nothing about this
			// directory; it is retried on demand.
			_ = d.signatureFor(gctx, u)
			return nil
		})
	}
	return g.Wait()
}

// IsNotFound reports whether resp is the server's answer for a missing path.
func (d *Detector) IsNotFound(ctx context.Context, resp *transport.Response) (bool, error) {
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}

	sig := d.signatureFor(ctx, resp.URL)
	if sig.err != nil {
		return false, sig.err
	}
	if sig.realNotFound {
		return false, nil
	}

	body := normalize(string(resp.Body), path.Base(resp.URL.Path))
	return similarity(words(body), sig.words) >= d.threshold, nil
}

// signatureFor returns the cached signature of u's directory, probing the
// server once per directory even under concurrent calls.
func (d *Detector) signatureFor(ctx context.Context, u *url.URL) *signature {
	key := directoryKey(u)

	d.mu.Lock()
	fetcher := d.fetcher
	if fetcher == nil {
		d.mu.Unlock()
		return &signature{err: ErrNotBound}
	}
	sig, ok := d.cache[key]
	if ok {
		d.mu.Unlock()
		select {
		case <-sig.ready:
		case <-ctx.Done():
			return &signature{err: ctx.Err()}
		}
		return sig
	}
	sig = &signature{ready: make(chan struct{})}
	d.cache[key] = sig
	d.mu.Unlock()

	d.probe(ctx, fetcher, u, sig)
	close(sig.ready)

	if sig.err != nil {
		// Forget failed probes so a later call can retry.
		d.mu.Lock()
		if d.cache[key] == sig {
			delete(d.cache, key)
		}
		d.mu.Unlock()
	}
	return sig
}

func (d *Detector) probe(ctx context.Context, fetcher Fetcher, u *url.URL, sig *signature) {
	name := uuid.NewString()
	if ext := path.Ext(u.Path); ext != "" {
		name += ext
	}
	probeURL := *u
	probeURL.Path = path.Join(directory(u.Path), name)
	probeURL.RawQuery = ""
	probeURL.Fragment = ""

	resp, err := fetcher.Get(ctx, &probeURL)
	if err != nil {
		sig.err = err
		return
	}

	if resp.StatusCode == http.StatusNotFound {
		sig.realNotFound = true
		return
	}
	sig.words = words(normalize(string(resp.Body), name))
	d.logger.Debug("learned soft 404 signature", "directory", directoryKey(u), "status", resp.StatusCode)
}

// directory returns the directory part of a URL path, always ending in "/".
func directory(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		return p
	}
	dir := path.Dir(p)
	if dir == "/" {
		return dir
	}
	return dir + "/"
}

func directoryKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host + directory(u.Path) + "|" + path.Ext(u.Path)
}

// normalize removes the requested file name, which error pages often echo.
func normalize(body, name string) string {
	if name == "" || name == "/" || name == "." {
		return body
	}
	return strings.ReplaceAll(body, name, "")
}

func words(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// similarity is the Jaccard index of two word sets. Two empty sets are
// identical.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
