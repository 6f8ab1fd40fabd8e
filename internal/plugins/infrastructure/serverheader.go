// Package infrastructure contains the built-in infrastructure plugins.
package infrastructure

import (
	"context"
	"net/url"
	"strings"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// ServerHeaderName is the registry name of the server header plugin.
const ServerHeaderName = "server_header"

// ServerHeader fingerprints the web server from the headers of the target
// root page.
type ServerHeader struct{}

// NewServerHeader is the plugin factory.
func NewServerHeader() plugin.Plugin {
	return &ServerHeader{}
}

func (p *ServerHeader) Name() string              { return ServerHeaderName }
func (p *ServerHeader) Category() plugin.Category { return plugin.CategoryInfrastructure }
func (p *ServerHeader) Description() string {
	return "Reports web server software, versions and operating system disclosed by response headers."
}

// osIndicators maps Server header fragments to operating systems.
var osIndicators = []struct{ marker, os string }{
	{"ubuntu", "Ubuntu"},
	{"debian", "Debian"},
	{"centos", "CentOS"},
	{"red hat", "Red Hat"},
	{"fedora", "Fedora"},
	{"win32", "Windows"},
	{"win64", "Windows"},
	{"freebsd", "FreeBSD"},
}

// Discover fetches the target and reports what its headers disclose. It
// never returns new URLs.
func (p *ServerHeader) Discover(ctx context.Context, env *plugin.Env, u *url.URL) ([]*url.URL, error) {
	resp, err := env.Opener.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	for _, f := range analyze(resp) {
		env.Report(p, f)
	}
	return nil, nil
}

func analyze(resp *transport.Response) []model.Finding {
	var findings []model.Finding
	add := func(findingType, name, description, evidence string) {
		f := model.NewFinding(model.KindInfo, findingType, name, description)
		f.URL = resp.URL.String()
		f.Evidence = evidence
		f.ResponseIDs = []int64{resp.ID}
		findings = append(findings, f)
	}

	if server := resp.Header.Get("Server"); server != "" {
		add("server_header", "Server header", "The web server identifies itself as "+server+".", server)

		if strings.Contains(server, "/") {
			add("server_version", "Server version disclosed", "The Server header reveals software version information.", server)
		}

		lower := strings.ToLower(server)
		for _, ind := range osIndicators {
			if strings.Contains(lower, ind.marker) {
				add("os_detected", "Operating system detected", "The Server header reveals the operating system.", ind.os)
				break
			}
		}
	}

	for _, h := range []string{"X-Powered-By", "X-AspNet-Version", "X-AspNetMvc-Version"} {
		if v := resp.Header.Get(h); v != "" {
			add("powered_by_header", h+" header", "The "+h+" header reveals the backend technology stack.", v)
		}
	}

	if via := resp.Header.Get("Via"); via != "" {
		add("via_header", "Via header present", "The Via header reveals proxy or gateway information.", via)
	}

	return findings
}
