package model

import (
	"strings"
	"sync"
	"testing"
)

func TestNewFinding(t *testing.T) {
	t.Parallel()

	f := NewFinding(KindVuln, "exposed_vcs", "Git metadata exposed", "desc")

	if f.Severity != SeverityHigh {
		t.Errorf("expected SeverityHigh, got %v", f.Severity)
	}
	if f.SeverityText != "HIGH" {
		t.Errorf("expected SeverityText HIGH, got %q", f.SeverityText)
	}
	if f.Kind != KindVuln {
		t.Errorf("expected kind vuln, got %q", f.Kind)
	}
}

func TestFindingString(t *testing.T) {
	t.Parallel()

	f := NewFinding(KindInfo, "server_header", "Server header", "")
	if got := f.String(); got != "[INFO] Server header" {
		t.Errorf("unexpected string without URL: %q", got)
	}

	f.URL = "http://example.com/"
	if got := f.String(); !strings.HasSuffix(got, "at http://example.com/") {
		t.Errorf("unexpected string with URL: %q", got)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Kind
	}{
		{"vulns", KindVuln},
		{"vuln", KindVuln},
		{"info", KindInfo},
		{"shells", KindShell},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Fatalf("ParseKind(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseKind("exploits"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSequence(t *testing.T) {
	t.Parallel()

	t.Run("starts at one", func(t *testing.T) {
		t.Parallel()

		s := NewSequence()
		if got := s.Next(); got != 1 {
			t.Errorf("expected first ID 1, got %d", got)
		}
		if got := s.Current(); got != 1 {
			t.Errorf("expected current 1, got %d", got)
		}
	})

	t.Run("reset restarts numbering", func(t *testing.T) {
		t.Parallel()

		s := NewSequence()
		s.Next()
		s.Next()
		s.Reset()
		if got := s.Next(); got != 1 {
			t.Errorf("expected 1 after reset, got %d", got)
		}
	})

	t.Run("concurrent IDs are unique", func(t *testing.T) {
		t.Parallel()

		s := NewSequence()
		var mu sync.Mutex
		seen := make(map[int64]bool)
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := s.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		if len(seen) != 50 {
			t.Errorf("expected 50 unique IDs, got %d", len(seen))
		}
	})
}
