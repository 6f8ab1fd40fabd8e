// Package plugintest builds plugin environments backed by an httptest
// server for plugin tests.
package plugintest

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/fingerprint"
	"github.com/nao1215/webscan/internal/kb"
	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
	"github.com/nao1215/webscan/internal/workerpool"
)

// Server starts an httptest server for handler and returns an Env whose
// only target is the server root. Everything is torn down with the test.
func Server(t *testing.T, handler http.Handler) (*plugin.Env, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	return NewEnv(t, root), srv
}

// NewEnv returns an Env scanning targets with a live opener, a bound 404
// detector, an empty knowledge base and a small worker pool.
func NewEnv(t *testing.T, targets ...*url.URL) *plugin.Env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.NewConfig()
	seq := model.NewSequence()

	opener, err := transport.New(transport.Settings{
		Timeout: 5 * time.Second,
		Site:    cfg.SiteFor,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to create opener: %v", err)
	}
	opener.SetSequence(seq)
	t.Cleanup(opener.End)

	pool := workerpool.New(4, workerpool.WithLogger(logger))
	t.Cleanup(pool.Close)

	detector := fingerprint.New(fingerprint.WithLogger(logger))
	detector.Reset(opener, pool)

	return &plugin.Env{
		Opener:   opener,
		Pool:     pool,
		KB:       kb.New(),
		NotFound: detector,
		Seq:      seq,
		Config:   cfg,
		Logger:   logger,
		Targets:  targets,
	}
}

// MustParse parses raw or fails the test.
func MustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return u
}
