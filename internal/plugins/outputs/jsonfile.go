package outputs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
)

// JSONFileName is the registry name of the JSON report plugin.
const JSONFileName = "json_file"

// DefaultJSONFile is the default JSON report path.
const DefaultJSONFile = "webscan-report.json"

// JSONFile writes every finding of the scan to a JSON file when the scan
// ends.
type JSONFile struct {
	collector
	path string
}

// NewJSONFile is the plugin factory.
func NewJSONFile() plugin.Plugin {
	return &JSONFile{path: DefaultJSONFile}
}

func (j *JSONFile) Name() string              { return JSONFileName }
func (j *JSONFile) Category() plugin.Category { return plugin.CategoryOutput }
func (j *JSONFile) Description() string {
	return "Writes the findings, a severity summary and the enabled plugins to a JSON file."
}

// Options implements plugin.Configurable.
func (j *JSONFile) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "output_file", Description: "path of the JSON report", Default: DefaultJSONFile},
	}
}

// SetOption implements plugin.Configurable.
func (j *JSONFile) SetOption(key, value string) error {
	if key != "output_file" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	if value == "" {
		return fmt.Errorf("%w: output_file must not be empty", plugin.ErrInvalidOption)
	}
	j.path = value
	return nil
}

// Log implements plugin.Outputter. Messages are not part of the report.
func (j *JSONFile) Log(plugin.Message) error { return nil }

// JSONReport is the document written by the JSON report plugin.
type JSONReport struct {
	ScanID     string                                           `json:"scan_id,omitempty"`
	Targets    []string                                         `json:"targets"`
	StartedAt  time.Time                                        `json:"started_at"`
	FinishedAt time.Time                                        `json:"finished_at"`
	Outcome    string                                           `json:"outcome,omitempty"`
	Plugins    map[plugin.Category][]string                     `json:"plugins"`
	Options    map[plugin.Category]map[string]map[string]string `json:"options,omitempty"`
	Summary    Summary                                          `json:"summary"`
	Findings   []model.Finding                                  `json:"findings"`
}

// End writes the report.
func (j *JSONFile) End(_ context.Context, env *plugin.Env) error {
	findings, enabled, started := j.snapshot()
	if findings == nil {
		findings = []model.Finding{}
	}

	report := JSONReport{
		ScanID:     env.ScanID,
		Targets:    targetStrings(env),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Outcome:    env.Outcome,
		Plugins:    enabled.Plugins,
		Options:    enabled.Options,
		Summary:    summarize(findings),
		Findings:   findings,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(j.path, data)
}

func targetStrings(env *plugin.Env) []string {
	out := make([]string, 0, len(env.Targets))
	for _, t := range env.Targets {
		out = append(out, t.String())
	}
	return out
}
