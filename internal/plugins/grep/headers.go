package grep

import (
	"context"
	"net/url"
	"strings"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// SecurityHeadersName is the registry name of the security headers plugin.
const SecurityHeadersName = "security_headers"

// SecurityHeaders checks HTML responses for weak cookie attributes and a
// missing or permissive Content-Security-Policy.
type SecurityHeaders struct{}

// NewSecurityHeaders is the plugin factory.
func NewSecurityHeaders() plugin.Plugin {
	return &SecurityHeaders{}
}

func (p *SecurityHeaders) Name() string              { return SecurityHeadersName }
func (p *SecurityHeaders) Category() plugin.Category { return plugin.CategoryGrep }
func (p *SecurityHeaders) Description() string {
	return "Reports cookies without HttpOnly or SameSite and missing or unsafe Content-Security-Policy headers."
}

// Grep implements plugin.Grepper.
func (p *SecurityHeaders) Grep(_ context.Context, env *plugin.Env, resp *transport.Response) error {
	if !strings.Contains(resp.ContentType(), "html") {
		return nil
	}
	for _, f := range checkHeaders(resp) {
		f.ResponseIDs = []int64{resp.ID}
		env.Report(p, f)
	}
	return nil
}

func checkHeaders(resp *transport.Response) []model.Finding {
	var findings []model.Finding
	add := func(findingType, name, location, evidence string) {
		f := model.NewFinding(model.KindInfo, findingType, name, model.GetFindingInfo(findingType).Impact)
		f.URL = location
		f.Evidence = evidence
		findings = append(findings, f)
	}

	// Cookie problems are reported once per cookie name and host.
	origin := originOf(resp.URL)
	for _, cookie := range resp.Header.Values("Set-Cookie") {
		lower := strings.ToLower(cookie)
		name := cookieName(cookie)
		if !strings.Contains(lower, "httponly") {
			add("cookie_no_httponly", "Cookie missing HttpOnly flag", origin, name)
		}
		if !strings.Contains(lower, "samesite") {
			add("cookie_no_samesite", "Cookie missing SameSite attribute", origin, name)
		}
	}

	csp := resp.Header.Get("Content-Security-Policy")
	if csp == "" && resp.Header.Get("Content-Security-Policy-Report-Only") == "" {
		add("csp_missing", "Missing Content-Security-Policy", origin, "")
		return findings
	}
	if strings.Contains(csp, "'unsafe-inline'") {
		add("csp_unsafe_inline", "CSP allows unsafe inline scripts", origin, csp)
	}
	if strings.Contains(csp, "'unsafe-eval'") {
		add("csp_unsafe_eval", "CSP allows unsafe eval", origin, csp)
	}
	return findings
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host + "/"
}

// cookieName returns the cookie name without its value, which may be a
// session secret.
func cookieName(cookie string) string {
	if i := strings.Index(cookie, "="); i >= 0 {
		return strings.TrimSpace(cookie[:i])
	}
	return strings.TrimSpace(cookie)
}
