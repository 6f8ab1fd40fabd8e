package plugin

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/fingerprint"
	"github.com/nao1215/webscan/internal/kb"
	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/transport"
	"github.com/nao1215/webscan/internal/workerpool"
)

// Env is what a plugin may use during one scan. The engine builds a new Env
// for every scan; plugins must not keep it after the call returns.
type Env struct {
	Opener   *transport.Opener
	Pool     *workerpool.Pool
	KB       *kb.KnowledgeBase
	NotFound *fingerprint.Detector
	Seq      *model.Sequence
	Config   *config.Config
	Logger   *slog.Logger
	Targets  []*url.URL

	// ScanID identifies the scan in persisted reports.
	ScanID string

	// Outcome is set by the engine before output plugins end.
	Outcome string
}

// Report completes f with an ID from the session sequence, the plugin name
// and the current time, and stores it in the knowledge base. It returns
// false for duplicates.
func (e *Env) Report(p Plugin, f model.Finding) bool {
	f.ID = e.Seq.Next()
	f.Plugin = p.Name()
	if f.FoundAt.IsZero() {
		f.FoundAt = time.Now()
	}
	return e.KB.Append(f)
}

// InScope reports whether u is on the host of one of the targets.
func (e *Env) InScope(u *url.URL) bool {
	for _, t := range e.Targets {
		if t.Host == u.Host {
			return true
		}
	}
	return false
}
