package target

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds scheme and path", "example.com", "http://example.com/"},
		{"lowercases host", "https://EXAMPLE.com/Path", "https://example.com/Path"},
		{"drops fragment", "http://example.com/a#top", "http://example.com/a"},
		{"keeps port and query", "http://example.com:8080/?q=1", "http://example.com:8080/?q=1"},
		{"trims space", "  http://example.com/  ", "http://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.in, err)
			}
			if u.String() != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, u.String(), tt.want)
			}
		})
	}

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()

		if _, err := Parse(""); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget for empty input, got %v", err)
		}
		if _, err := Parse("ftp://example.com/"); !errors.Is(err, ErrUnsupportedScheme) {
			t.Errorf("expected ErrUnsupportedScheme, got %v", err)
		}
		if _, err := Parse("http:///nohost"); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget for missing host, got %v", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("set replaces and dedupes", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		if err := r.Set("a.example", "b.example"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := r.Set("c.example", "http://c.example/"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got := r.Strings()
		if len(got) != 1 || got[0] != "http://c.example/" {
			t.Errorf("unexpected targets: %v", got)
		}
	})

	t.Run("invalid set leaves registry unchanged", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		_ = r.Set("a.example")
		if err := r.Set("b.example", "gopher://x"); err == nil {
			t.Fatal("expected error")
		}
		if r.Len() != 1 || r.Strings()[0] != "http://a.example/" {
			t.Errorf("registry changed on failed Set: %v", r.Strings())
		}
	})

	t.Run("add keeps order", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		_ = r.Add("b.example")
		_ = r.Add("a.example")
		_ = r.Add("b.example")
		got := r.Strings()
		if len(got) != 2 || got[0] != "http://b.example/" {
			t.Errorf("unexpected order: %v", got)
		}
	})

	t.Run("URLs returns copies", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		_ = r.Add("a.example")
		r.URLs()[0].Path = "/changed"
		if r.URLs()[0].Path != "/" {
			t.Error("URLs exposed internal storage")
		}
	})

	t.Run("clear", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		_ = r.Add("a.example")
		r.Clear()
		if r.Len() != 0 {
			t.Errorf("expected empty registry, got %d", r.Len())
		}
	})
}
