package exception

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestHandlerHandle(t *testing.T) {
	t.Parallel()

	t.Run("records failures in order", func(t *testing.T) {
		t.Parallel()

		h := New(WithLogger(discardLogger()))
		h.Handle("crawl", "web_spider", "http://a/", errors.New("first"), nil)
		h.Handle("audit", "sensitive_files", "", errors.New("second"), []byte("stack"))
		h.Handle("audit", "sensitive_files", "", nil, nil)

		recs := h.Records()
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		if recs[0].Plugin != "web_spider" || recs[1].Stack != "stack" {
			t.Errorf("unexpected records: %+v", recs)
		}
		if !strings.Contains(recs[0].String(), "crawl/web_spider at http://a/") {
			t.Errorf("unexpected string: %q", recs[0].String())
		}
	})

	t.Run("limit caps storage but not count", func(t *testing.T) {
		t.Parallel()

		var notified int
		h := New(WithLogger(discardLogger()), WithLimit(2), WithNotify(func(Record) { notified++ }))
		for range 5 {
			h.Handle("grep", "emails", "", errors.New("x"), nil)
		}
		if len(h.Records()) != 2 {
			t.Errorf("expected 2 stored records, got %d", len(h.Records()))
		}
		if h.Len() != 5 {
			t.Errorf("expected count 5, got %d", h.Len())
		}
		if notified != 5 {
			t.Errorf("expected 5 notifications, got %d", notified)
		}
	})

	t.Run("clear resets", func(t *testing.T) {
		t.Parallel()

		h := New(WithLogger(discardLogger()))
		h.Handle("grep", "emails", "", errors.New("x"), nil)
		h.Clear()
		if h.Len() != 0 || len(h.Records()) != 0 {
			t.Error("expected empty handler after Clear")
		}
	})
}

func TestHandlerCapture(t *testing.T) {
	t.Parallel()

	t.Run("success records nothing", func(t *testing.T) {
		t.Parallel()

		h := New(WithLogger(discardLogger()))
		if err := h.Capture("audit", "p", "", func() error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if h.Len() != 0 {
			t.Errorf("expected no records, got %d", h.Len())
		}
	})

	t.Run("error is recorded and returned", func(t *testing.T) {
		t.Parallel()

		sentinel := errors.New("stop now")
		h := New(WithLogger(discardLogger()))
		err := h.Capture("audit", "p", "", func() error { return sentinel })
		if !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel, got %v", err)
		}
		recs := h.Records()
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		if !strings.Contains(recs[0].Stack, "exception.(*Handler).Capture") {
			t.Errorf("error record has no capture stack: %q", recs[0].Stack)
		}
	})

	t.Run("panic is recovered with stack", func(t *testing.T) {
		t.Parallel()

		h := New(WithLogger(discardLogger()))
		err := h.Capture("crawl", "p", "http://a/", func() error { panic("boom") })
		if !errors.Is(err, ErrPanic) {
			t.Errorf("expected ErrPanic, got %v", err)
		}
		recs := h.Records()
		if len(recs) != 1 || recs[0].Stack == "" {
			t.Errorf("expected one record with stack, got %+v", recs)
		}
	})
}
