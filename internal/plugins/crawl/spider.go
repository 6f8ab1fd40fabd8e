// Package crawl contains the built-in crawl plugins.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/nao1215/webscan/internal/plugin"
)

// SpiderName is the registry name of the web spider.
const SpiderName = "web_spider"

// Spider follows the links of HTML pages on the target hosts.
//
// Design decision: the Spider only extracts links from one page per call.
// Queueing, depth limits and URL deduplication belong to the scan strategy
// so every crawl plugin gets them for free.
type Spider struct {
	mu sync.RWMutex

	// ignorePatterns are URL path patterns to skip during crawling.
	// Patterns use glob syntax (e.g., "/admin/*", "*.pdf").
	ignorePatterns []string

	// followPatterns are URL path patterns to follow during crawling.
	// If set, only URLs matching these patterns are crawled.
	followPatterns []string
}

// NewSpider creates a Spider. It is the plugin factory.
func NewSpider() plugin.Plugin {
	return &Spider{}
}

func (s *Spider) Name() string              { return SpiderName }
func (s *Spider) Category() plugin.Category { return plugin.CategoryCrawl }
func (s *Spider) Description() string {
	return "Follows links, forms and embedded resources of HTML pages on the target hosts."
}

// Options implements plugin.Configurable.
func (s *Spider) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "ignore", Description: "comma-separated path globs never to crawl (e.g. /logout*,*.pdf)"},
		{Name: "follow", Description: "comma-separated path globs; when set only matching paths are crawled"},
	}
}

// SetOption implements plugin.Configurable.
func (s *Spider) SetOption(key, value string) error {
	patterns := splitPatterns(value)
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("%w: %s: bad pattern %q", plugin.ErrInvalidOption, key, p)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "ignore":
		s.ignorePatterns = patterns
	case "follow":
		s.followPatterns = patterns
	default:
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	return nil
}

// Discover fetches u and returns the in-scope links it references. Pages
// the 404 detector classifies as not found yield no links.
func (s *Spider) Discover(ctx context.Context, env *plugin.Env, u *url.URL) ([]*url.URL, error) {
	resp, err := env.Opener.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	if env.NotFound != nil && env.NotFound.Bound() {
		notFound, err := env.NotFound.IsNotFound(ctx, resp)
		if err != nil {
			return nil, err
		}
		if notFound {
			return nil, nil
		}
	}

	if !strings.Contains(resp.ContentType(), "html") {
		return nil, nil
	}

	result, err := NewParser(resp.URL).Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", resp.URL, err)
	}

	var ignore []string
	if env.Config != nil {
		ignore = env.Config.SiteFor(resp.URL.Hostname()).IgnorePatterns
	}

	var found []*url.URL
	for _, link := range result.Links {
		next, err := url.Parse(link)
		if err != nil {
			continue
		}
		if !env.InScope(next) || !s.shouldCrawl(next, ignore) {
			continue
		}
		found = append(found, next)
	}

	// A redirect can land on another in-scope URL; it needs auditing too.
	if resp.URL.String() != u.String() && env.InScope(resp.URL) {
		found = append(found, resp.URL)
	}

	env.Logger.Debug("page crawled", "url", resp.URL.String(), "title", result.Title, "links", len(found))
	return found, nil
}

// shouldCrawl checks if a URL should be crawled based on ignore/follow patterns.
//
// Logic:
//  1. If URL matches any ignore pattern, skip it (return false)
//  2. If follow patterns are set and URL matches none, skip it (return false)
//  3. Otherwise, crawl it (return true)
func (s *Spider) shouldCrawl(u *url.URL, extraIgnore []string) bool {
	path := u.Path
	if path == "" {
		path = "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pattern := range slices.Concat(extraIgnore, s.ignorePatterns) {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(s.followPatterns) > 0 {
		for _, pattern := range s.followPatterns {
			if matchPattern(pattern, path) {
				return true
			}
		}
		return false
	}

	return true
}

func splitPatterns(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	// Patterns without a slash also match the last path segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}

	return false
}
