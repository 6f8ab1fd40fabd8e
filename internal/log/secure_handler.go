package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue replaces every redacted value.
const MaskValue = "***REDACTED***"

// secretNames are attribute keys, header names, cookie names and query
// parameters whose value is always masked. Lookups are lowercase.
var secretNames = map[string]bool{
	// Request headers set from a profile or --header.
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-csrf-token":        true,
	"x-xsrf-token":        true,

	// Session cookies of common frameworks.
	"phpsessid":    true,
	"jsessionid":   true,
	"aspsessionid": true,
	"connect.sid":  true,
	"sessionid":    true,
	"session_id":   true,
	"session":      true,
	"sid":          true,

	// Form fields and query parameters of login and API requests.
	"password":            true,
	"passwd":              true,
	"pwd":                 true,
	"api_key":             true,
	"apikey":              true,
	"api-key":             true,
	"access_token":        true,
	"refresh_token":       true,
	"client_secret":       true,
	"csrfmiddlewaretoken": true,
	"authenticity_token":  true,
	"private_key":         true,
	"secret_key":          true,
}

// secretFragments mask any key containing them. A bare "key" is not one of
// them: cache_key, sort_key and the like are routine scan attributes.
var secretFragments = []string{
	"password", "passwd", "secret", "token", "auth",
	"credential", "private", "csrf", "sessid",
}

// secretValues match values that are credentials whatever their key, such
// as a header value copied into an "evidence" attribute.
var secretValues = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`), // JWT
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
	regexp.MustCompile(`^gh[pousr]_[A-Za-z0-9]{36,}$`),
	regexp.MustCompile(`^xox[abprs]-[A-Za-z0-9-]+$`),
	regexp.MustCompile(`^sk_live_[A-Za-z0-9]+$`),
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// SecureHandler is an slog.Handler that masks credentials before records
// reach the wrapped handler. Scan targets are logged with the cookies,
// headers and proxy credentials the user configured, and crawled URLs often
// carry session IDs or tokens in their query string.
//
// Design decision: masking lives in the handler so that plugins, the
// transport and the output manager log through a plain *slog.Logger.
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler wraps handler, or the default handler when it is nil.
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled implements slog.Handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(mask(a))
		return true
	})
	return h.handler.Handle(ctx, masked)
}

// WithAttrs implements slog.Handler.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = mask(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(masked)}
}

// WithGroup implements slog.Handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

func mask(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, ga := range group {
			masked[i] = mask(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}

	if isSecretName(a.Key) {
		return slog.String(a.Key, MaskValue)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}

	v := a.Value.String()
	if isSecretValue(v) {
		return slog.String(a.Key, MaskValue)
	}
	if redacted, ok := redactURL(v); ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// isSecretName reports whether values under name must be masked.
func isSecretName(name string) bool {
	name = strings.ToLower(name)
	if secretNames[name] {
		return true
	}
	for _, f := range secretFragments {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

func isSecretValue(v string) bool {
	for _, re := range secretValues {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// redactURL masks the password of the user info and every secret query
// parameter of an absolute URL, such as a proxy address or a crawled link.
// It reports false when v is not such a URL or holds nothing to mask.
func redactURL(v string) (string, bool) {
	if !strings.Contains(v, "://") {
		return "", false
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return "", false
	}

	changed := false
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), MaskValue)
		changed = true
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isSecretName(name) {
				q.Set(name, MaskValue)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}
	if !changed {
		return "", false
	}
	// Keep the mask readable instead of percent-encoded.
	return strings.ReplaceAll(u.String(), url.QueryEscape(MaskValue), MaskValue), true
}

// NewSecureLogger returns a text logger writing to w through a
// SecureHandler. verbose lowers the level from Warn to Debug.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
