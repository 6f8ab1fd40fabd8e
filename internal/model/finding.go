package model

import (
	"fmt"
	"time"
)

// Kind classifies a knowledge base entry.
type Kind string

const (
	// KindVuln is a confirmed vulnerability.
	KindVuln Kind = "vuln"

	// KindInfo is an informational finding.
	KindInfo Kind = "info"

	// KindShell is a live exploitation handle obtained during a scan.
	KindShell Kind = "shell"
)

// ParseKind converts the plural names used by the console ("vulns", "info",
// "shells") and the singular kind names to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "vuln", "vulns":
		return KindVuln, nil
	case "info", "infos":
		return KindInfo, nil
	case "shell", "shells":
		return KindShell, nil
	default:
		return "", fmt.Errorf("unknown finding kind %q (expected vulns, info or shells)", s)
	}
}

// Finding is a single entry in the knowledge base.
//
// Design decision: vulnerabilities, informational items and shells share one
// struct distinguished by Kind. Output plugins and the findings store treat
// them uniformly; the console only needs Name and Description to list them.
type Finding struct {
	// ID is unique within a scan session. It is assigned from the session
	// sequence when the finding is reported.
	ID int64 `json:"id"`

	// Kind is vuln, info or shell.
	Kind Kind `json:"kind"`

	// Type is the machine-readable finding type (e.g., "exposed_vcs").
	Type string `json:"type"`

	// Plugin is the name of the plugin that produced the finding.
	Plugin string `json:"plugin"`

	// Name is a short human-readable title.
	Name string `json:"name"`

	// Description explains the finding.
	Description string `json:"description"`

	// Severity is the risk level.
	Severity Severity `json:"-"`

	// SeverityText is the string form of Severity for JSON output.
	SeverityText string `json:"severity"`

	// URL is where the finding was observed.
	URL string `json:"url,omitempty"`

	// Evidence is the matched value (header, address, EXIF tag...).
	Evidence string `json:"evidence,omitempty"`

	// ResponseIDs references transport history entries that support the finding.
	ResponseIDs []int64 `json:"response_ids,omitempty"`

	// FoundAt is when the finding was reported.
	FoundAt time.Time `json:"found_at"`
}

// NewFinding creates a finding whose severity comes from the finding type
// mapping. Callers fill in location and evidence.
func NewFinding(kind Kind, findingType, name, description string) Finding {
	sev := GetSeverity(findingType)
	return Finding{
		Kind:         kind,
		Type:         findingType,
		Name:         name,
		Description:  description,
		Severity:     sev,
		SeverityText: sev.String(),
	}
}

// String returns a one-line summary used by console output.
func (f Finding) String() string {
	if f.URL == "" {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Name)
	}
	return fmt.Sprintf("[%s] %s at %s", f.Severity, f.Name, f.URL)
}
