package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed templates/webscan.yaml
var profileTemplate embed.FS

// profileFileName is the default path of the generated profile.
const profileFileName = "webscan.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new scan profile",
		Long: `Init writes a commented scan profile to the current directory.

The generated profile includes:
- Targets and the enabled plugins of every category
- Plugin options
- Misc settings such as timeouts, crawl depth and proxy
- Commented examples for per-host cookies and headers

Examples:
  # Create webscan.yaml in the current directory
  webscan init

  # Create a named profile usable as --profile audit
  webscan init -o ~/.config/webscan/profiles/audit.yaml

  # Force overwrite an existing file
  webscan init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", profileFileName, "Output file path for the profile")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing profile")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("profile already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := profileTemplate.ReadFile("templates/webscan.yaml")
	if err != nil {
		return fmt.Errorf("failed to read profile template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created profile: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit it to set:")
	fmt.Fprintln(out, "  - the targets and enabled plugins")
	fmt.Fprintln(out, "  - plugin options")
	fmt.Fprintln(out, "  - per-host cookies and headers")
	return nil
}
