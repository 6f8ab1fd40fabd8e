package outputs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
)

// ConsoleName is the registry name of the console plugin.
const ConsoleName = "console"

// Console prints messages and findings as they arrive and a severity
// summary table when the scan ends.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	counts  Summary
}

// NewConsole is the plugin factory. It writes to stdout.
func NewConsole() plugin.Plugin {
	return NewConsoleWriter(os.Stdout)
}

// NewConsoleWriter returns a Console writing to w.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) Name() string              { return ConsoleName }
func (c *Console) Category() plugin.Category { return plugin.CategoryOutput }
func (c *Console) Description() string {
	return "Prints progress messages and findings to the terminal."
}

// Options implements plugin.Configurable.
func (c *Console) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "verbose", Description: "also print debug messages", Default: "false"},
	}
}

// SetOption implements plugin.Configurable.
func (c *Console) SetOption(key, value string) error {
	if key != "verbose" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: verbose: %w", plugin.ErrInvalidOption, err)
	}
	c.mu.Lock()
	c.verbose = v
	c.mu.Unlock()
	return nil
}

// Log implements plugin.Outputter.
func (c *Console) Log(msg plugin.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Level < slog.LevelInfo && !c.verbose {
		return nil
	}
	prefix := ""
	switch {
	case msg.Level >= slog.LevelError:
		prefix = "error: "
	case msg.Level >= slog.LevelWarn:
		prefix = "warning: "
	case msg.Level < slog.LevelInfo:
		prefix = "debug: "
	}
	_, err := fmt.Fprintf(c.out, "%s%s\n", prefix, msg.Text)
	return err
}

// LogEnabledPlugins implements plugin.Outputter.
func (c *Console) LogEnabledPlugins(set plugin.EnabledSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cat := range plugin.Categories() {
		names := set.Plugins[cat]
		if len(names) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(c.out, "%s plugins: %v\n", cat, names); err != nil {
			return err
		}
	}
	return nil
}

// Finding implements plugin.Outputter.
func (c *Console) Finding(f model.Finding) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Severity {
	case model.SeverityCritical:
		c.counts.Critical++
	case model.SeverityHigh:
		c.counts.High++
	case model.SeverityMedium:
		c.counts.Medium++
	case model.SeverityLow:
		c.counts.Low++
	default:
		c.counts.Info++
	}
	_, err := fmt.Fprintf(c.out, "%s\n", f)
	return err
}

// End prints the summary table.
func (c *Console) End(_ context.Context, _ *plugin.Env) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintln(c.out); err != nil {
		return err
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Severity", "Findings")
	for _, sev := range severitiesDescending {
		if err := table.Append([]string{sev.String(), strconv.Itoa(c.counts.Count(sev))}); err != nil {
			return err
		}
	}
	if err := table.Append([]string{"TOTAL", strconv.Itoa(c.counts.Total())}); err != nil {
		return err
	}
	return table.Render()
}
