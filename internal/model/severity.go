package model

import (
	"fmt"
	"strings"
)

// Severity represents the risk level of a finding.
//
// Design decision: We use iota-based constants rather than string constants
// for efficiency in comparisons and sorting. The String() method provides
// human-readable output when needed.
type Severity int

const (
	// SeverityInfo indicates informational findings with no direct security impact.
	// Examples: server banners, e-mail addresses.
	SeverityInfo Severity = iota

	// SeverityLow indicates minor issues with limited impact.
	// Examples: EXIF timestamps, software versions in image metadata.
	SeverityLow

	// SeverityMedium indicates moderate issues that warrant attention.
	// Examples: camera information in EXIF, exposed status pages.
	SeverityMedium

	// SeverityHigh indicates serious issues.
	// Examples: exposed VCS metadata, device serial numbers.
	SeverityHigh

	// SeverityCritical indicates severe issues that need immediate attention.
	// Examples: exposed environment files with credentials, GPS coordinates.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a severity name (case-insensitive) to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SeverityInfo, nil
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// FindingInfo contains metadata about a finding type including severity,
// impact description, and remediation recommendation.
type FindingInfo struct {
	Severity       Severity
	Impact         string
	Recommendation string
}

// findingInfoMapping maps finding types to their metadata.
// This centralized mapping ensures consistent risk assessment across plugins.
var findingInfoMapping = map[string]FindingInfo{
	// CRITICAL
	"exposed_env_file": {
		Severity:       SeverityCritical,
		Impact:         "An environment file is publicly readable and commonly contains credentials and API keys.",
		Recommendation: "Remove the file from the document root and rotate every secret it contained.",
	},
	"private_key": {
		Severity:       SeverityCritical,
		Impact:         "Private key material is published and lets anyone impersonate the key owner or decrypt its traffic.",
		Recommendation: "Remove the file, revoke the key and issue a new one.",
	},
	"exif_gps": {
		Severity:       SeverityCritical,
		Impact:         "An image reveals the GPS coordinates where it was taken.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},

	// HIGH
	"exposed_vcs": {
		Severity:       SeverityHigh,
		Impact:         "Version control metadata is exposed, allowing the source code and history to be downloaded.",
		Recommendation: "Deny access to VCS directories in the web server configuration.",
	},
	"exposed_backup": {
		Severity:       SeverityHigh,
		Impact:         "A backup archive is downloadable and may contain source code or databases.",
		Recommendation: "Move backups outside of the document root.",
	},
	"api_token": {
		Severity:       SeverityHigh,
		Impact:         "An access token is published and grants access to the service it belongs to.",
		Recommendation: "Revoke the token and keep credentials out of client-side code.",
	},
	"ftp_anonymous_login": {
		Severity:       SeverityHigh,
		Impact:         "Anyone can log in to the FTP server and read, or sometimes write, its files.",
		Recommendation: "Disable anonymous FTP access.",
	},
	"ssh_protocol_v1": {
		Severity:       SeverityHigh,
		Impact:         "SSH protocol version 1 has design flaws that allow session hijacking.",
		Recommendation: "Allow only SSH protocol version 2.",
	},
	"exif_serial": {
		Severity:       SeverityHigh,
		Impact:         "An image contains a device serial number that tracks the device across photos.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},
	"exif_author": {
		Severity:       SeverityHigh,
		Impact:         "An image contains author or copyright information that identifies its creator.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},

	// MEDIUM
	"exposed_status_page": {
		Severity:       SeverityMedium,
		Impact:         "A server status page exposes internal metrics and client addresses.",
		Recommendation: "Disable the status page or restrict it to localhost.",
	},
	"exif_camera": {
		Severity:       SeverityMedium,
		Impact:         "An image contains camera make and model information.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},
	"exif_computer": {
		Severity:       SeverityMedium,
		Impact:         "An image contains the name of the computer used to process it.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},
	"encrypted_private_key": {
		Severity:       SeverityMedium,
		Impact:         "An encrypted private key is published and can be attacked offline.",
		Recommendation: "Remove the file and rotate the key.",
	},
	"cloud_storage": {
		Severity:       SeverityMedium,
		Impact:         "A referenced storage bucket may allow public listing or writes.",
		Recommendation: "Check the bucket policy and block public listing and writes.",
	},
	"outdated_ssh": {
		Severity:       SeverityMedium,
		Impact:         "The SSH server runs an old release with publicly known vulnerabilities.",
		Recommendation: "Upgrade the SSH server.",
	},
	"cookie_no_httponly": {
		Severity:       SeverityMedium,
		Impact:         "A cookie without the HttpOnly flag can be stolen through cross-site scripting.",
		Recommendation: "Set the HttpOnly attribute on every cookie that scripts do not need.",
	},
	"csp_unsafe_inline": {
		Severity:       SeverityMedium,
		Impact:         "The Content-Security-Policy allows inline scripts, which removes most of its XSS protection.",
		Recommendation: "Replace 'unsafe-inline' with nonces or hashes.",
	},
	"csp_unsafe_eval": {
		Severity:       SeverityMedium,
		Impact:         "The Content-Security-Policy allows eval(), which enables code injection.",
		Recommendation: "Remove 'unsafe-eval' from the policy.",
	},

	// LOW
	"exif_software": {
		Severity:       SeverityLow,
		Impact:         "An image reveals the editing software or operating system used.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},
	"exif_datetime": {
		Severity:       SeverityLow,
		Impact:         "An image timestamp can help infer timezone and activity patterns.",
		Recommendation: "Strip EXIF metadata from images before publishing them.",
	},
	"powered_by_header": {
		Severity:       SeverityLow,
		Impact:         "The X-Powered-By header discloses the application framework and version.",
		Recommendation: "Remove the X-Powered-By header.",
	},
	"server_version": {
		Severity:       SeverityLow,
		Impact:         "The Server header discloses the exact software version, which narrows down known vulnerabilities.",
		Recommendation: "Configure the server not to send version numbers.",
	},
	"os_detected": {
		Severity:       SeverityLow,
		Impact:         "The Server header discloses the operating system of the host.",
		Recommendation: "Configure the server not to send operating system details.",
	},
	"service_banner": {
		Severity:       SeverityLow,
		Impact:         "A network service greets clients with its software name and version.",
		Recommendation: "Configure the service to send a generic greeting.",
	},
	"via_header": {
		Severity:       SeverityLow,
		Impact:         "The Via header discloses proxies or gateways in front of the application.",
		Recommendation: "Strip the Via header at the edge.",
	},
	"analytics_id": {
		Severity:       SeverityLow,
		Impact:         "A tracking ID can be correlated with other sites using the same ID.",
		Recommendation: "Use separate analytics accounts for sites that must not be linked.",
	},
	"cookie_no_samesite": {
		Severity:       SeverityLow,
		Impact:         "A cookie without the SameSite attribute is sent with cross-site requests.",
		Recommendation: "Set SameSite=Lax or SameSite=Strict on cookies.",
	},
	"csp_missing": {
		Severity:       SeverityLow,
		Impact:         "Without a Content-Security-Policy the browser loads scripts from anywhere.",
		Recommendation: "Send a restrictive Content-Security-Policy header.",
	},

	// INFO
	"server_header": {
		Severity:       SeverityInfo,
		Impact:         "The Server header discloses the web server software.",
		Recommendation: "Reduce the Server header to a generic value.",
	},
	"email_address": {
		Severity:       SeverityInfo,
		Impact:         "E-mail addresses can be harvested for phishing and social engineering.",
		Recommendation: "Use contact forms or obfuscate published addresses.",
	},
}

// GetSeverity returns the severity registered for a finding type.
// Unknown finding types are treated as informational.
func GetSeverity(findingType string) Severity {
	if info, ok := findingInfoMapping[findingType]; ok {
		return info.Severity
	}
	return SeverityInfo
}

// GetFindingInfo returns the metadata registered for a finding type.
// Unknown finding types get an informational entry with empty texts.
func GetFindingInfo(findingType string) FindingInfo {
	if info, ok := findingInfoMapping[findingType]; ok {
		return info
	}
	return FindingInfo{Severity: SeverityInfo}
}
