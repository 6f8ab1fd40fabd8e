package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProfileExt is the file extension of profile files.
const ProfileExt = ".yaml"

// Profile is a saved scan configuration: targets, enabled plugins, plugin
// options and misc settings.
//
// Design decision: a profile only describes what to scan and how. Nothing
// produced by a scan is ever written back to it, so the same profile can be
// run any number of times.
type Profile struct {
	// Name is a short identifier shown by the CLI.
	Name string `yaml:"name,omitempty"`

	// Description explains what the profile is for.
	Description string `yaml:"description,omitempty"`

	// Targets are the URLs to scan.
	Targets []string `yaml:"targets,omitempty"`

	// Plugins maps a plugin category to the plugin names enabled in it.
	Plugins map[string][]string `yaml:"plugins,omitempty"`

	// Options maps category -> plugin -> option key -> value.
	Options map[string]map[string]map[string]string `yaml:"options,omitempty"`

	// Misc overrides Config defaults. Zero values leave defaults alone.
	Misc Misc `yaml:"misc,omitempty"`

	// Sites holds per-host request overrides keyed by host name.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// Misc is the misc-settings section of a profile.
type Misc struct {
	WorkerThreads        int               `yaml:"workerThreads,omitempty"`
	Timeout              time.Duration     `yaml:"timeout,omitempty"`
	UserAgent            string            `yaml:"userAgent,omitempty"`
	Proxy                string            `yaml:"proxy,omitempty"`
	Headers              map[string]string `yaml:"headers,omitempty"`
	Cookie               string            `yaml:"cookie,omitempty"`
	RateLimit            float64           `yaml:"rateLimit,omitempty"`
	MaxBodySize          int64             `yaml:"maxBodySize,omitempty"`
	MaxDepth             int               `yaml:"maxDepth,omitempty"`
	MaxDiscoveryTime     time.Duration     `yaml:"maxDiscoveryTime,omitempty"`
	MaxConsecutiveErrors int               `yaml:"maxConsecutiveErrors,omitempty"`
	MemoryLimit          uint64            `yaml:"memoryLimit,omitempty"`
}

// ApplyTo copies every non-zero misc setting and the site overrides onto cfg.
func (p *Profile) ApplyTo(cfg *Config) {
	m := p.Misc
	if m.WorkerThreads != 0 {
		cfg.WorkerThreads = m.WorkerThreads
	}
	if m.Timeout != 0 {
		cfg.Timeout = m.Timeout
	}
	if m.UserAgent != "" {
		cfg.UserAgent = m.UserAgent
	}
	if m.Proxy != "" {
		cfg.ProxyAddress = m.Proxy
	}
	if len(m.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(m.Headers))
		}
		for k, v := range m.Headers {
			cfg.Headers[k] = v
		}
	}
	if m.Cookie != "" {
		cfg.Cookie = m.Cookie
	}
	if m.RateLimit != 0 {
		cfg.RateLimit = m.RateLimit
	}
	if m.MaxBodySize != 0 {
		cfg.MaxBodySize = m.MaxBodySize
	}
	if m.MaxDepth != 0 {
		cfg.MaxDepth = m.MaxDepth
	}
	if m.MaxDiscoveryTime != 0 {
		cfg.MaxDiscoveryTime = m.MaxDiscoveryTime
	}
	if m.MaxConsecutiveErrors != 0 {
		cfg.MaxConsecutiveErrors = m.MaxConsecutiveErrors
	}
	if m.MemoryLimit != 0 {
		cfg.MemoryLimit = m.MemoryLimit
	}
	if len(p.Sites) > 0 {
		if cfg.Sites == nil {
			cfg.Sites = make(map[string]SiteConfig, len(p.Sites))
		}
		for host, site := range p.Sites {
			cfg.Sites[host] = site
		}
	}
}

// SetOption records a plugin option in the profile.
func (p *Profile) SetOption(category, plugin, key, value string) {
	if p.Options == nil {
		p.Options = make(map[string]map[string]map[string]string)
	}
	if p.Options[category] == nil {
		p.Options[category] = make(map[string]map[string]string)
	}
	if p.Options[category][plugin] == nil {
		p.Options[category][plugin] = make(map[string]string)
	}
	p.Options[category][plugin][key] = value
}

// ParseOption splits a "category.plugin.key=value" assignment as accepted by
// the -O flag.
func ParseOption(s string) (category, plugin, key, value string, err error) {
	lhs, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", "", "", fmt.Errorf("%w: %q", ErrInvalidOption, s)
	}
	parts := strings.SplitN(lhs, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("%w: %q", ErrInvalidOption, s)
	}
	return parts[0], parts[1], parts[2], value, nil
}

// LoadProfile reads a profile from a YAML file.
// If the file does not exist, it returns ErrProfileNotFound.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided profile path is intentional
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// SaveProfile writes p to path, creating parent directories as needed.
func SaveProfile(path string, p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ProfilesDir returns the directory where named profiles live.
func ProfilesDir(homeDir string) string {
	return filepath.Join(homeDir, "profiles")
}

// FindProfile resolves a profile reference in the following order:
// 1. nameOrPath as a file path
// 2. <homeDir>/profiles/<nameOrPath>.yaml
//
// Returns the resolved path, or empty string if not found.
func FindProfile(nameOrPath, homeDir string) string {
	if nameOrPath == "" {
		return ""
	}
	if _, err := os.Stat(nameOrPath); err == nil {
		return nameOrPath
	}
	name := nameOrPath
	if !strings.HasSuffix(name, ProfileExt) {
		name += ProfileExt
	}
	candidate := filepath.Join(ProfilesDir(homeDir), name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
