package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/webscan/internal/model"
)

// FileName is the name of the database file inside the database directory.
const FileName = "webscan.db"

// ErrScanNotFound is returned when a scan ID is not in the store.
var ErrScanNotFound = errors.New("scan not found")

// FindingsDB provides SQLite-based storage for scan results.
type FindingsDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures FindingsDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a FindingsDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*FindingsDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a scan with the sqlite output plugin first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	fdb := &FindingsDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := fdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return fdb, nil
}

// Path returns the database file path.
func (fdb *FindingsDB) Path() string {
	return fdb.dbPath
}

// Close closes the database connection.
func (fdb *FindingsDB) Close() error {
	return fdb.db.Close()
}

func (fdb *FindingsDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		scan_id TEXT PRIMARY KEY,
		targets TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		outcome TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);

	CREATE TABLE IF NOT EXISTS findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL REFERENCES scans(scan_id),
		finding_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		type TEXT NOT NULL,
		plugin TEXT,
		name TEXT NOT NULL,
		description TEXT,
		severity TEXT NOT NULL,
		url TEXT,
		evidence TEXT,
		response_ids TEXT,
		found_at TEXT NOT NULL,
		UNIQUE(scan_id, finding_id)
	);

	CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id);
	CREATE INDEX IF NOT EXISTS idx_findings_kind ON findings(kind);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL REFERENCES scans(scan_id),
		response_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		body_size INTEGER,
		duration_ms INTEGER,
		fetched_at TEXT NOT NULL,
		UNIQUE(scan_id, response_id)
	);

	CREATE INDEX IF NOT EXISTS idx_responses_scan ON responses(scan_id);
	`

	_, err := fdb.db.ExecContext(context.Background(), schema)
	return err
}

// ScanRecord describes one stored scan.
type ScanRecord struct {
	ScanID     string
	Targets    []string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
}

// BeginScan records the start of a scan.
func (fdb *FindingsDB) BeginScan(ctx context.Context, scanID string, targets []string, startedAt time.Time) error {
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("failed to serialize targets: %w", err)
	}

	query := `
	INSERT INTO scans (scan_id, targets, started_at)
	VALUES (?, ?, ?)
	ON CONFLICT(scan_id) DO UPDATE SET
		targets = excluded.targets,
		started_at = excluded.started_at
	`
	if _, err := fdb.db.ExecContext(ctx, query, scanID, string(targetsJSON), formatTimestamp(startedAt)); err != nil {
		return fmt.Errorf("failed to begin scan: %w", err)
	}
	return nil
}

// FinishScan records the end of a scan and its outcome.
func (fdb *FindingsDB) FinishScan(ctx context.Context, scanID, outcome string, finishedAt time.Time) error {
	query := `UPDATE scans SET finished_at = ?, outcome = ? WHERE scan_id = ?`

	result, err := fdb.db.ExecContext(ctx, query, formatTimestamp(finishedAt), outcome, scanID)
	if err != nil {
		return fmt.Errorf("failed to finish scan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish scan: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return nil
}

// ListScans returns every stored scan, newest first.
func (fdb *FindingsDB) ListScans(ctx context.Context) ([]ScanRecord, error) {
	query := `
	SELECT scan_id, targets, started_at, COALESCE(finished_at, ''), COALESCE(outcome, '')
	FROM scans
	ORDER BY started_at DESC
	`

	rows, err := fdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var results []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var targetsJSON, started, finished string
		if err := rows.Scan(&rec.ScanID, &targetsJSON, &started, &finished, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(targetsJSON), &rec.Targets); err != nil {
			return nil, fmt.Errorf("failed to parse targets: %w", err)
		}
		rec.StartedAt = parseTimestamp(started)
		rec.FinishedAt = parseTimestamp(finished)
		results = append(results, rec)
	}

	return results, rows.Err()
}

// LatestScanID returns the ID of the most recently started scan.
func (fdb *FindingsDB) LatestScanID(ctx context.Context) (string, error) {
	var id string
	err := fdb.db.QueryRowContext(ctx, `SELECT scan_id FROM scans ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrScanNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest scan: %w", err)
	}
	return id, nil
}

// InsertFinding stores a finding of a scan. Storing the same finding ID
// twice for a scan is a no-op.
func (fdb *FindingsDB) InsertFinding(ctx context.Context, scanID string, f model.Finding) error {
	responseIDs, err := json.Marshal(f.ResponseIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize response IDs: %w", err)
	}

	query := `
	INSERT INTO findings (scan_id, finding_id, kind, type, plugin, name, description, severity, url, evidence, response_ids, found_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(scan_id, finding_id) DO NOTHING
	`

	_, err = fdb.db.ExecContext(ctx, query,
		scanID,
		f.ID,
		string(f.Kind),
		f.Type,
		f.Plugin,
		f.Name,
		f.Description,
		f.Severity.String(),
		f.URL,
		f.Evidence,
		string(responseIDs),
		formatTimestamp(f.FoundAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// ListFindings returns the findings of a scan ordered by finding ID. An
// empty kind returns every kind.
func (fdb *FindingsDB) ListFindings(ctx context.Context, scanID string, kind model.Kind) ([]model.Finding, error) {
	query := `
	SELECT finding_id, kind, type, COALESCE(plugin, ''), name, COALESCE(description, ''), severity,
		COALESCE(url, ''), COALESCE(evidence, ''), COALESCE(response_ids, ''), found_at
	FROM findings
	WHERE scan_id = ?
	`
	args := []any{scanID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY finding_id"

	rows, err := fdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var results []model.Finding
	for rows.Next() {
		var f model.Finding
		var kindText, severity, responseIDs, foundAt string

		err := rows.Scan(
			&f.ID,
			&kindText,
			&f.Type,
			&f.Plugin,
			&f.Name,
			&f.Description,
			&severity,
			&f.URL,
			&f.Evidence,
			&responseIDs,
			&foundAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}

		f.Kind = model.Kind(kindText)
		if f.Severity, err = model.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("failed to parse finding %d: %w", f.ID, err)
		}
		f.SeverityText = f.Severity.String()
		f.FoundAt = parseTimestamp(foundAt)
		if responseIDs != "" && responseIDs != "null" {
			if err := json.Unmarshal([]byte(responseIDs), &f.ResponseIDs); err != nil {
				return nil, fmt.Errorf("failed to parse response IDs: %w", err)
			}
		}
		results = append(results, f)
	}

	return results, rows.Err()
}

// SeverityCounts returns the number of findings per severity for a scan.
func (fdb *FindingsDB) SeverityCounts(ctx context.Context, scanID string) (map[string]int, error) {
	rows, err := fdb.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM findings WHERE scan_id = ? GROUP BY severity`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[strings.ToLower(sev)] = n
	}
	return counts, rows.Err()
}

// ResponseRecord is the stored summary of an HTTP response.
type ResponseRecord struct {
	ResponseID  int64
	Method      string
	URL         string
	StatusCode  int
	ContentType string
	BodySize    int
	Duration    time.Duration
	FetchedAt   time.Time
}

// InsertResponses stores response summaries of a scan in one transaction.
func (fdb *FindingsDB) InsertResponses(ctx context.Context, scanID string, records []ResponseRecord) (err error) {
	tx, err := fdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO responses (scan_id, response_id, method, url, status_code, content_type, body_size, duration_ms, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(scan_id, response_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			scanID,
			r.ResponseID,
			r.Method,
			r.URL,
			r.StatusCode,
			r.ContentType,
			r.BodySize,
			r.Duration.Milliseconds(),
			formatTimestamp(r.FetchedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert response: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit responses: %w", err)
	}
	return nil
}

// ListResponses returns the response summaries of a scan ordered by ID.
func (fdb *FindingsDB) ListResponses(ctx context.Context, scanID string) ([]ResponseRecord, error) {
	query := `
	SELECT response_id, method, url, COALESCE(status_code, 0), COALESCE(content_type, ''),
		COALESCE(body_size, 0), COALESCE(duration_ms, 0), fetched_at
	FROM responses
	WHERE scan_id = ?
	ORDER BY response_id
	`

	rows, err := fdb.db.QueryContext(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var results []ResponseRecord
	for rows.Next() {
		var r ResponseRecord
		var durationMS int64
		var fetchedAt string
		if err := rows.Scan(&r.ResponseID, &r.Method, &r.URL, &r.StatusCode, &r.ContentType,
			&r.BodySize, &durationMS, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.FetchedAt = parseTimestamp(fetchedAt)
		results = append(results, r)
	}

	return results, rows.Err()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time when no format matches.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
