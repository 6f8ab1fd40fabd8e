package outputs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
)

// MarkdownName is the registry name of the markdown report plugin.
const MarkdownName = "markdown_report"

// DefaultMarkdownFile is the default markdown report path.
const DefaultMarkdownFile = "webscan-report.md"

// Markdown writes a human-readable report when the scan ends.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation, which gives us tables, GitHub alerts and mermaid charts
// without hand-escaping.
type Markdown struct {
	collector
	path string
}

// NewMarkdown is the plugin factory.
func NewMarkdown() plugin.Plugin {
	return &Markdown{path: DefaultMarkdownFile}
}

func (m *Markdown) Name() string              { return MarkdownName }
func (m *Markdown) Category() plugin.Category { return plugin.CategoryOutput }
func (m *Markdown) Description() string {
	return "Writes a markdown report with a severity summary, chart and finding tables."
}

// Options implements plugin.Configurable.
func (m *Markdown) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "output_file", Description: "path of the markdown report", Default: DefaultMarkdownFile},
	}
}

// SetOption implements plugin.Configurable.
func (m *Markdown) SetOption(key, value string) error {
	if key != "output_file" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	if value == "" {
		return fmt.Errorf("%w: output_file must not be empty", plugin.ErrInvalidOption)
	}
	m.path = value
	return nil
}

// Log implements plugin.Outputter. Messages are not part of the report.
func (m *Markdown) Log(plugin.Message) error { return nil }

// End writes the report.
func (m *Markdown) End(_ context.Context, env *plugin.Env) error {
	var buf bytes.Buffer
	if err := m.render(&buf, env, time.Now()); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return writeFileAtomic(m.path, buf.Bytes())
}

func (m *Markdown) render(w io.Writer, env *plugin.Env, finished time.Time) error {
	findings, enabled, started := m.snapshot()
	summary := summarize(findings)

	md := markdown.NewMarkdown(w)
	writeHeader(md, env, started, finished)
	writeSummary(md, summary)
	writePlugins(md, enabled)
	writeFindings(md, findings, summary)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by webscan on %s*", finished.Format(time.RFC3339))
	return md.Build()
}

func writeHeader(md *markdown.Markdown, env *plugin.Env, started, finished time.Time) {
	md.H1("Web Scan Report")
	md.PlainText("")

	outcome := env.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	rows := [][]string{
		{"Targets", "`" + strings.Join(targetStrings(env), "`, `") + "`"},
		{"Started", started.Format("2006-01-02 15:04:05 MST")},
		{"Duration", finished.Sub(started).Round(time.Second).String()},
		{"Outcome", outcome},
	}
	if env.ScanID != "" {
		rows = append(rows, []string{"Scan ID", "`" + env.ScanID + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeSummary(md *markdown.Markdown, s Summary) {
	md.H2("Severity Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Count"},
		Rows: [][]string{
			{"🔴 Critical", strconv.Itoa(s.Critical)},
			{"🟠 High", strconv.Itoa(s.High)},
			{"🟡 Medium", strconv.Itoa(s.Medium)},
			{"🔵 Low", strconv.Itoa(s.Low)},
			{"⚪ Info", strconv.Itoa(s.Info)},
			{"**Total**", "**" + strconv.Itoa(s.Total()) + "**"},
		},
	})
	md.PlainText("")

	if s.Total() > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Finding Severity Distribution"),
			piechart.WithShowData(true),
		)
		for _, sev := range severitiesDescending {
			if n := s.Count(sev); n > 0 {
				chart.LabelAndIntValue(sev.String(), uint64(n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case s.Critical > 0:
		md.Cautionf("Critical issues detected! %d critical finding(s) require immediate attention.", s.Critical)
	case s.High > 0:
		md.Warningf("High severity issues detected. %d high severity finding(s) should be addressed.", s.High)
	case s.Medium > 0:
		md.Importantf("Medium severity issues found. %d finding(s) weaken the site's defenses.", s.Medium)
	case s.Total() > 0:
		md.Note("Only low severity and informational findings detected.")
	default:
		md.Tip("No security issues detected.")
	}
	md.PlainText("")
}

func writePlugins(md *markdown.Markdown, set plugin.EnabledSet) {
	md.H2("Enabled Plugins")
	md.PlainText("")

	title := cases.Title(language.English)
	var rows [][]string
	for _, cat := range plugin.Categories() {
		names := set.Plugins[cat]
		if len(names) == 0 {
			continue
		}
		rows = append(rows, []string{title.String(string(cat)), strings.Join(names, ", ")})
	}
	if len(rows) == 0 {
		md.PlainText("No plugins were enabled.")
		md.PlainText("")
		return
	}
	md.Table(markdown.TableSet{
		Header: []string{"Category", "Plugins"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeFindings(md *markdown.Markdown, findings []model.Finding, s Summary) {
	md.H2("Findings")
	md.PlainText("")

	if s.Total() == 0 {
		md.PlainText("No findings.")
		md.PlainText("")
		return
	}

	for _, sev := range severitiesDescending {
		group := bySeverity(findings, sev)
		if len(group) == 0 {
			continue
		}

		md.H3(cases.Title(language.English).String(strings.ToLower(sev.String())))
		md.PlainText("")

		rows := make([][]string, len(group))
		for i, f := range group {
			rows[i] = []string{
				f.Name,
				string(f.Kind),
				orDash(truncateString(f.Evidence, 50)),
				orDash(truncateString(f.URL, 60)),
				orDash(truncateString(model.GetFindingInfo(f.Type).Recommendation, 60)),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Title", "Kind", "Evidence", "Location", "Recommendation"},
			Rows:   rows,
		})
		md.PlainText("")

		for _, f := range group {
			if f.Description != "" {
				md.Details(f.Name, f.Description)
			}
		}
		md.PlainText("")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateString truncates a string to maxLen bytes with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
