package model

import "testing"

// TestSeverityString tests the String method of Severity.
func TestSeverityString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		severity Severity
		expected string
	}{
		{SeverityInfo, "INFO"},
		{SeverityLow, "LOW"},
		{SeverityMedium, "MEDIUM"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(999), "UNKNOWN"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			t.Parallel()
			if tc.severity.String() != tc.expected {
				t.Errorf("got %q, expected %q", tc.severity.String(), tc.expected)
			}
		})
	}
}

// TestParseSeverity tests the ParseSeverity function.
func TestParseSeverity(t *testing.T) {
	t.Parallel()

	t.Run("parses names case-insensitively", func(t *testing.T) {
		t.Parallel()

		for _, name := range []string{"high", "HIGH", " High "} {
			sev, err := ParseSeverity(name)
			if err != nil {
				t.Fatalf("ParseSeverity(%q) returned error: %v", name, err)
			}
			if sev != SeverityHigh {
				t.Errorf("ParseSeverity(%q) = %v, expected HIGH", name, sev)
			}
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseSeverity("catastrophic"); err == nil {
			t.Error("expected error for unknown severity")
		}
	})
}

// TestGetSeverity tests the GetSeverity function.
func TestGetSeverity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		findingType string
		expected    Severity
	}{
		{"exposed_env_file", SeverityCritical},
		{"exif_gps", SeverityCritical},
		{"exposed_vcs", SeverityHigh},
		{"exposed_status_page", SeverityMedium},
		{"powered_by_header", SeverityLow},
		{"server_header", SeverityInfo},
		{"email_address", SeverityInfo},
		{"private_key", SeverityCritical},
		{"api_token", SeverityHigh},
		{"analytics_id", SeverityLow},

		// Unknown finding type defaults to Info
		{"unknown_type", SeverityInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.findingType, func(t *testing.T) {
			t.Parallel()
			result := GetSeverity(tc.findingType)
			if result != tc.expected {
				t.Errorf("GetSeverity(%q) = %v, expected %v", tc.findingType, result, tc.expected)
			}
		})
	}
}

// TestSeverityOrdering tests that severity levels are ordered correctly.
// Info < Low < Medium < High < Critical
func TestSeverityOrdering(t *testing.T) {
	t.Parallel()

	if SeverityInfo >= SeverityLow {
		t.Error("expected SeverityInfo < SeverityLow")
	}
	if SeverityLow >= SeverityMedium {
		t.Error("expected SeverityLow < SeverityMedium")
	}
	if SeverityMedium >= SeverityHigh {
		t.Error("expected SeverityMedium < SeverityHigh")
	}
	if SeverityHigh >= SeverityCritical {
		t.Error("expected SeverityHigh < SeverityCritical")
	}
}

// TestFindingInfoMappingCompleteness tests that every mapped finding type has texts.
func TestFindingInfoMappingCompleteness(t *testing.T) {
	t.Parallel()

	for findingType := range findingInfoMapping {
		t.Run(findingType, func(t *testing.T) {
			t.Parallel()

			info := GetFindingInfo(findingType)
			if info.Impact == "" {
				t.Errorf("finding type %q has empty Impact", findingType)
			}
			if info.Recommendation == "" {
				t.Errorf("finding type %q has empty Recommendation", findingType)
			}
		})
	}
}
