// Package outputs contains the built-in output plugins.
package outputs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
)

// collector gathers what report-writing plugins need at End.
type collector struct {
	mu        sync.Mutex
	startedAt time.Time
	enabled   plugin.EnabledSet
	findings  []model.Finding
}

func (c *collector) LogEnabledPlugins(set plugin.EnabledSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = set
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
	return nil
}

func (c *collector) Finding(f model.Finding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings = append(c.findings, f)
	return nil
}

// snapshot returns the collected findings ordered by ID.
func (c *collector) snapshot() ([]model.Finding, plugin.EnabledSet, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Finding, len(c.findings))
	copy(out, c.findings)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	started := c.startedAt
	if started.IsZero() {
		started = time.Now()
	}
	return out, c.enabled, started
}

// Summary counts findings per severity.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Total returns the number of findings.
func (s Summary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Info
}

// Count returns the number of findings of one severity.
func (s Summary) Count(sev model.Severity) int {
	switch sev {
	case model.SeverityCritical:
		return s.Critical
	case model.SeverityHigh:
		return s.High
	case model.SeverityMedium:
		return s.Medium
	case model.SeverityLow:
		return s.Low
	default:
		return s.Info
	}
}

func summarize(findings []model.Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case model.SeverityCritical:
			s.Critical++
		case model.SeverityHigh:
			s.High++
		case model.SeverityMedium:
			s.Medium++
		case model.SeverityLow:
			s.Low++
		default:
			s.Info++
		}
	}
	return s
}

func bySeverity(findings []model.Finding, sev model.Severity) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// severitiesDescending lists severities from most to least severe.
var severitiesDescending = []model.Severity{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
	model.SeverityInfo,
}

// writeFileAtomic writes data next to path and renames it into place so a
// crashed scan never leaves a half-written report.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary report: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
