package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nao1215/webscan/internal/plugin"
)

// sinkHandler is an slog.Handler that renders each record as a single line
// for output plugins and passes the record on to next.
type sinkHandler struct {
	m      *Manager
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

// Enabled always accepts records: output plugins decide themselves what
// they show, independent of the level of the underlying logger.
func (h *sinkHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})

	if h.next.Enabled(ctx, r.Level) {
		_ = h.next.Handle(ctx, r)
	}
	return h.m.forward(plugin.Message{Level: r.Level, Text: b.String(), At: r.Time})
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &sinkHandler{
		m:      h.m,
		next:   h.next.WithAttrs(attrs),
		attrs:  append(append([]slog.Attr{}, h.attrs...), qualified...),
		prefix: h.prefix,
	}
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &sinkHandler{
		m:      h.m,
		next:   h.next.WithGroup(name),
		attrs:  h.attrs,
		prefix: h.prefix + name + ".",
	}
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s=%v", prefix, a.Key, a.Value.Any())
}
