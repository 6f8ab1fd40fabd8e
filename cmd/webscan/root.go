package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for webscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webscan",
		Short: "Plugin based web application security scanner",
		Long: `webscan is a web application security scanner driven by plugins.

A scan runs in phases: infrastructure plugins look at the targets, crawl
plugins discover URLs, audit plugins probe every discovered URL, and grep
plugins inspect every HTTP response. Output plugins report messages and
findings to the terminal, files and the findings database.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewKBCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
