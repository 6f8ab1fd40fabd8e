package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/database"
	"github.com/nao1215/webscan/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewKBCmd creates the kb command and its subcommands.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Browse the findings of past scans",
		Long: `Browse the knowledge base stored by the sqlite output plugin.

Enable the plugin with --output sqlite (or in a profile) to record scans.`,
	}
	cmd.PersistentFlags().String("db-dir", config.XDGDataDir(), "Directory of the findings database")

	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBScansCmd())
	return cmd
}

func newKBListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <vulns|info|shells>",
		Short: "List the vulnerabilities, information or shells of a scan",
		Long: `List the findings of one kind recorded by a scan.

Examples:
  # Vulnerabilities of the latest scan
  webscan kb list vulns

  # Informational findings of a given scan
  webscan kb list info --scan 6f1c0c8e-7d7c-4a59-9d0e-0c1e3a5b7f21`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"vulns", "info", "shells"},
		RunE:      runKBListCmd,
	}
	cmd.Flags().String("scan", "", "Scan ID (default: the latest scan)")
	return cmd
}

func newKBScansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scans",
		Short: "List the recorded scans",
		Args:  cobra.NoArgs,
		RunE:  runKBScansCmd,
	}
}

func runKBListCmd(cmd *cobra.Command, args []string) error {
	kind, err := model.ParseKind(args[0])
	if err != nil {
		return err
	}
	scanID, err := cmd.Flags().GetString("scan")
	if err != nil {
		return err
	}

	db, err := openFindingsDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	return listFindings(cmd.Context(), cmd.OutOrStdout(), db, scanID, kind)
}

func runKBScansCmd(cmd *cobra.Command, _ []string) error {
	db, err := openFindingsDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	return listScans(cmd.Context(), cmd.OutOrStdout(), db)
}

// openFindingsDB opens an existing findings database.
func openFindingsDB(cmd *cobra.Command) (*database.FindingsDB, error) {
	dir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return nil, err
	}
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	return database.Open(dir, opts)
}

// listFindings writes the findings of kind recorded by scanID, or by the
// latest scan when scanID is empty.
func listFindings(ctx context.Context, w io.Writer, db *database.FindingsDB, scanID string, kind model.Kind) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if scanID == "" {
		latest, err := db.LatestScanID(ctx)
		if errors.Is(err, database.ErrScanNotFound) {
			return errors.New("no scan recorded yet")
		}
		if err != nil {
			return err
		}
		scanID = latest
	}

	findings, err := db.ListFindings(ctx, scanID, kind)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		_, err := fmt.Fprintf(w, "No %s findings in scan %s.\n", kind, scanID)
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Severity", "Plugin", "Name", "URL")
	for _, f := range findings {
		row := []string{strconv.FormatInt(f.ID, 10), f.Severity.String(), f.Plugin, f.Name, f.URL}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// listScans writes every recorded scan, newest first.
func listScans(ctx context.Context, w io.Writer, db *database.FindingsDB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scans, err := db.ListScans(ctx)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		_, err := fmt.Fprintln(w, "No scan recorded yet.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Scan ID", "Targets", "Started", "Outcome")
	for _, s := range scans {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "running"
		}
		row := []string{s.ScanID, strings.Join(s.Targets, ", "), s.StartedAt.Format(time.RFC3339), outcome}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
