package config

// SiteConfig holds host-specific request settings.
type SiteConfig struct {
	// Cookie is an HTTP cookie to use for this host.
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are URL path patterns the crawl phase skips (glob syntax).
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`
}

// merge overlays override on s. Non-empty fields of override win; headers
// are merged key by key.
func (s SiteConfig) merge(override SiteConfig) SiteConfig {
	if override.Cookie != "" {
		s.Cookie = override.Cookie
	}
	if len(override.Headers) > 0 {
		if s.Headers == nil {
			s.Headers = make(map[string]string)
		}
		for k, v := range override.Headers {
			s.Headers[k] = v
		}
	}
	if len(override.IgnorePatterns) > 0 {
		s.IgnorePatterns = override.IgnorePatterns
	}
	return s
}
