package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/plugins"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewPluginsCmd creates the plugins command.
func NewPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins [category]",
		Short: "List the available plugins",
		Long: `List the built-in plugins with their description and options.

Categories: infrastructure, crawl, audit, grep, output.

Examples:
  # List every plugin
  webscan plugins

  # List only the audit plugins
  webscan plugins audit`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: categoryNames(),
		RunE:      runPluginsCmd,
	}
}

func runPluginsCmd(cmd *cobra.Command, args []string) error {
	categories := plugin.Categories()
	if len(args) == 1 {
		cat, err := plugin.ParseCategory(args[0])
		if err != nil {
			return err
		}
		categories = []plugin.Category{cat}
	}
	return writePluginTable(cmd.OutOrStdout(), plugins.NewRegistry(), categories)
}

// writePluginTable renders one row per plugin of the given categories.
func writePluginTable(w io.Writer, r *plugin.Registry, categories []plugin.Category) error {
	table := tablewriter.NewWriter(w)
	table.Header("Category", "Plugin", "Description", "Options")
	for _, cat := range categories {
		for _, name := range r.Available(cat) {
			p, err := r.Describe(cat, name)
			if err != nil {
				return err
			}
			if err := table.Append([]string{string(cat), name, p.Description(), optionSummary(p)}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

// optionSummary lists the option names of a configurable plugin with their
// defaults.
func optionSummary(p plugin.Plugin) string {
	c, ok := p.(plugin.Configurable)
	if !ok {
		return ""
	}
	var parts []string
	for _, o := range c.Options() {
		if o.Default != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", o.Name, o.Default))
			continue
		}
		parts = append(parts, o.Name)
	}
	return strings.Join(parts, ", ")
}

func categoryNames() []string {
	var names []string
	for _, c := range plugin.Categories() {
		names = append(names, string(c))
	}
	return names
}
