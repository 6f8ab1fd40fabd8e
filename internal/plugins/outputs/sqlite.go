package outputs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/webscan/internal/database"
	"github.com/nao1215/webscan/internal/plugin"
)

// SQLiteName is the registry name of the findings store plugin.
const SQLiteName = "sqlite"

// SQLite persists findings and the response history of the scan in the
// findings database, where the kb command can list them later.
type SQLite struct {
	collector
	dbDir string
}

// NewSQLite is the plugin factory.
func NewSQLite() plugin.Plugin {
	return &SQLite{}
}

func (s *SQLite) Name() string              { return SQLiteName }
func (s *SQLite) Category() plugin.Category { return plugin.CategoryOutput }
func (s *SQLite) Description() string {
	return "Stores findings and response summaries in the SQLite findings database."
}

// Options implements plugin.Configurable.
func (s *SQLite) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "db_dir", Description: "directory of the findings database (default: the XDG data directory)"},
	}
}

// SetOption implements plugin.Configurable.
func (s *SQLite) SetOption(key, value string) error {
	if key != "db_dir" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	s.dbDir = value
	return nil
}

// Log implements plugin.Outputter.
func (s *SQLite) Log(plugin.Message) error { return nil }

// End writes the scan, its findings and the response history.
func (s *SQLite) End(ctx context.Context, env *plugin.Env) (err error) {
	dir := s.dbDir
	if dir == "" && env.Config != nil {
		dir = env.Config.DBDir
	}
	if dir == "" {
		return fmt.Errorf("%w: no database directory configured", plugin.ErrInvalidOption)
	}

	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	scanID := env.ScanID
	if scanID == "" {
		scanID = uuid.NewString()
	}
	findings, _, started := s.snapshot()

	if err := db.BeginScan(ctx, scanID, targetStrings(env), started); err != nil {
		return err
	}
	for _, f := range findings {
		if err := db.InsertFinding(ctx, scanID, f); err != nil {
			return err
		}
	}

	if env.Opener != nil {
		history := env.Opener.History()
		records := make([]database.ResponseRecord, 0, len(history))
		for _, r := range history {
			records = append(records, database.ResponseRecord{
				ResponseID:  r.ID,
				Method:      r.Method,
				URL:         r.URL.String(),
				StatusCode:  r.StatusCode,
				ContentType: r.ContentType(),
				BodySize:    len(r.Body),
				Duration:    r.Duration,
				FetchedAt:   r.At,
			})
		}
		if err := db.InsertResponses(ctx, scanID, records); err != nil {
			return err
		}
	}

	outcome := env.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	return db.FinishScan(ctx, scanID, outcome, time.Now())
}
