// Package audit contains the built-in audit plugins.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// SensitiveFilesName is the registry name of the sensitive files plugin.
const SensitiveFilesName = "sensitive_files"

// probe is a well-known file and how to recognise it.
type probe struct {
	path        string
	findingType string
	name        string
	rootOnly    bool
	backup      bool
	// match confirms the body; nil accepts any non-HTML body.
	match func(body []byte) bool
}

var (
	gitRef    = regexp.MustCompile(`^(ref: refs/|[0-9a-f]{40}\s*$)`)
	envLine   = regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]*=`)
	svnHeader = regexp.MustCompile(`^\d+\s`)
)

var probes = []probe{
	{path: ".git/HEAD", findingType: "exposed_vcs", name: "Git repository exposed", match: gitRef.Match},
	{path: ".svn/entries", findingType: "exposed_vcs", name: "Subversion metadata exposed", match: svnHeader.Match},
	{path: ".hg/requires", findingType: "exposed_vcs", name: "Mercurial repository exposed", match: func(b []byte) bool {
		return bytes.Contains(b, []byte("revlogv1"))
	}},
	{path: ".env", findingType: "exposed_env_file", name: "Environment file exposed", match: envLine.Match},
	{path: "server-status", findingType: "exposed_status_page", name: "Apache server status page exposed", rootOnly: true, match: func(b []byte) bool {
		return bytes.Contains(b, []byte("Apache Server Status"))
	}},
	{path: "backup.zip", findingType: "exposed_backup", name: "Backup archive exposed", backup: true},
	{path: "backup.tar.gz", findingType: "exposed_backup", name: "Backup archive exposed", backup: true},
	{path: "www.zip", findingType: "exposed_backup", name: "Backup archive exposed", backup: true},
	{path: "database.sql", findingType: "exposed_backup", name: "Database dump exposed", backup: true},
}

// SensitiveFiles probes every discovered directory for version control
// metadata, environment files, backups and status pages.
//
// Design decision: a hit must pass both the 404 detector and a content
// check. Servers that answer every path with 200 would otherwise produce
// a finding per probe and directory.
type SensitiveFiles struct {
	mu      sync.Mutex
	checked map[string]struct{}
	backups bool
}

// NewSensitiveFiles is the plugin factory.
func NewSensitiveFiles() plugin.Plugin {
	return &SensitiveFiles{checked: make(map[string]struct{}), backups: true}
}

func (p *SensitiveFiles) Name() string              { return SensitiveFilesName }
func (p *SensitiveFiles) Category() plugin.Category { return plugin.CategoryAudit }
func (p *SensitiveFiles) Description() string {
	return "Looks for exposed VCS metadata, .env files, backups and server status pages in every directory."
}

// Options implements plugin.Configurable.
func (p *SensitiveFiles) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "backups", Description: "also probe common backup archive names", Default: "true"},
	}
}

// SetOption implements plugin.Configurable.
func (p *SensitiveFiles) SetOption(key, value string) error {
	if key != "backups" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: backups: %w", plugin.ErrInvalidOption, err)
	}
	p.mu.Lock()
	p.backups = b
	p.mu.Unlock()
	return nil
}

// Audit probes the directory of u once per scan.
func (p *SensitiveFiles) Audit(ctx context.Context, env *plugin.Env, u *url.URL) error {
	dir := directory(u.Path)

	p.mu.Lock()
	key := u.Scheme + "://" + u.Host + dir
	if _, done := p.checked[key]; done {
		p.mu.Unlock()
		return nil
	}
	p.checked[key] = struct{}{}
	backups := p.backups
	p.mu.Unlock()

	for _, pr := range probes {
		if pr.rootOnly && dir != "/" {
			continue
		}
		if pr.backup && !backups {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		target := *u
		target.Path = dir + pr.path
		target.RawQuery = ""
		target.Fragment = ""

		resp, err := env.Opener.Get(ctx, &target)
		if err != nil {
			return err
		}
		ok, err := p.confirm(ctx, env, pr, resp)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		f := model.NewFinding(model.KindVuln, pr.findingType, pr.name,
			model.GetFindingInfo(pr.findingType).Impact)
		f.URL = resp.URL.String()
		f.Evidence = pr.path
		f.ResponseIDs = []int64{resp.ID}
		if env.Report(p, f) {
			env.Logger.Info("sensitive file found", "url", f.URL, "type", pr.findingType)
		}
	}
	return nil
}

func (p *SensitiveFiles) confirm(ctx context.Context, env *plugin.Env, pr probe, resp *transport.Response) (bool, error) {
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return false, nil
	}
	notFound, err := env.NotFound.IsNotFound(ctx, resp)
	if err != nil || notFound {
		return false, err
	}
	if pr.match != nil {
		return pr.match(resp.Body), nil
	}
	return !strings.Contains(resp.ContentType(), "html"), nil
}

// directory returns the directory part of a URL path, always ending in "/".
func directory(p string) string {
	if p == "" || p == "/" {
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
