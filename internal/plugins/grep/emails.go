package grep

import (
	"context"
	"regexp"
	"strings"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// EmailsName is the registry name of the email plugin.
const EmailsName = "emails"

// emailRegex is deliberately permissive: a false positive costs a line in
// the report, a miss costs a lead.
var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// assetSuffixes are file names that look like addresses, such as
// retina images named "logo@2x.png".
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// freeProviders are webmail domains. Addresses on them identify a person
// less than addresses on a private or corporate domain.
var freeProviders = map[string]struct{}{
	"gmail.com": {}, "yahoo.com": {}, "hotmail.com": {}, "outlook.com": {},
	"protonmail.com": {}, "proton.me": {}, "tutanota.com": {}, "aol.com": {},
	"icloud.com": {}, "mail.com": {}, "yandex.com": {},
}

// Emails reports e-mail addresses found in textual responses.
type Emails struct{}

// NewEmails is the plugin factory.
func NewEmails() plugin.Plugin {
	return &Emails{}
}

func (p *Emails) Name() string              { return EmailsName }
func (p *Emails) Category() plugin.Category { return plugin.CategoryGrep }
func (p *Emails) Description() string {
	return "Finds e-mail addresses in HTML, text, JSON and script responses."
}

// Grep implements plugin.Grepper.
func (p *Emails) Grep(_ context.Context, env *plugin.Env, resp *transport.Response) error {
	if !isTextual(resp.ContentType()) {
		return nil
	}

	for _, addr := range extractEmails(string(resp.Body)) {
		desc := "The address " + addr + " is published in the response."
		if _, free := freeProviders[domainOf(addr)]; !free {
			desc += " It is on a private domain, which often identifies the owner or employer."
		}
		f := model.NewFinding(model.KindInfo, "email_address", "E-mail address", desc)
		f.URL = resp.URL.String()
		f.Evidence = addr
		f.ResponseIDs = []int64{resp.ID}
		env.Report(p, f)
	}
	return nil
}

// extractEmails returns the distinct lowercased addresses in text.
func extractEmails(text string) []string {
	seen := make(map[string]struct{})
	var unique []string
	for _, m := range emailRegex.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if isAsset(lower) {
			continue
		}
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		unique = append(unique, lower)
	}
	return unique
}

func isAsset(s string) bool {
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" || strings.HasPrefix(ct, "text/") {
		return true
	}
	for _, s := range []string{"json", "xml", "javascript"} {
		if strings.Contains(ct, s) {
			return true
		}
	}
	return false
}
