package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/webscan/internal/database"
	"github.com/nao1215/webscan/internal/model"
)

// seedDB records two scans; only the newer one has findings.
func seedDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := db.BeginScan(ctx, "old-scan", []string{"http://old.example/"}, started); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishScan(ctx, "old-scan", "completed", started.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.BeginScan(ctx, "new-scan", []string{"http://example.com/"}, started.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	vuln := model.NewFinding(model.KindVuln, "exposed_vcs", "Git repository", "found .git/HEAD")
	vuln.ID = 1
	vuln.Plugin = "sensitive_files"
	vuln.URL = "http://example.com/.git/HEAD"
	info := model.NewFinding(model.KindInfo, "email_address", "Email address", "address in page")
	info.ID = 2
	info.Plugin = "emails"
	for _, f := range []model.Finding{vuln, info} {
		if err := db.InsertFinding(ctx, "new-scan", f); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestKBListCmd(t *testing.T) {
	t.Parallel()

	dir := seedDB(t)

	t.Run("lists vulnerabilities of the latest scan", func(t *testing.T) {
		t.Parallel()
		out, err := runRoot(t, "kb", "list", "vulns", "--db-dir", dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Git repository") {
			t.Errorf("expected the vulnerability in output:\n%s", out)
		}
		if strings.Contains(out, "Email address") {
			t.Errorf("did not expect informational findings:\n%s", out)
		}
	})

	t.Run("lists a given scan", func(t *testing.T) {
		t.Parallel()
		out, err := runRoot(t, "kb", "list", "info", "--db-dir", dir, "--scan", "old-scan")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "No info findings in scan old-scan") {
			t.Errorf("expected empty message, got:\n%s", out)
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		t.Parallel()
		if _, err := runRoot(t, "kb", "list", "exploits", "--db-dir", dir); err == nil {
			t.Error("expected error for unknown kind")
		}
	})

	t.Run("fails without database", func(t *testing.T) {
		t.Parallel()
		if _, err := runRoot(t, "kb", "list", "vulns", "--db-dir", t.TempDir()); err == nil {
			t.Error("expected error when the database does not exist")
		}
	})
}

func TestKBScansCmd(t *testing.T) {
	t.Parallel()

	out, err := runRoot(t, "kb", "scans", "--db-dir", seedDB(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"new-scan", "old-scan", "completed", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "new-scan") > strings.Index(out, "old-scan") {
		t.Errorf("expected newest scan first:\n%s", out)
	}
}
