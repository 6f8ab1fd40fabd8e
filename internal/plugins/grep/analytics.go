package grep

import (
	"context"
	"regexp"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// AnalyticsIDsName is the registry name of the analytics plugin.
const AnalyticsIDsName = "analytics_ids"

// trackerPattern captures the tracker ID in its last group, or in the whole
// match when it has no group.
type trackerPattern struct {
	tracker string
	re      *regexp.Regexp
}

var trackerPatterns = []trackerPattern{
	{"Google Analytics (Universal)", regexp.MustCompile(`\bUA-\d{4,10}-\d{1,4}\b`)},
	{"Google Analytics 4", regexp.MustCompile(`\bG-[A-Z0-9]{10,12}\b`)},
	{"Google Tag Manager", regexp.MustCompile(`\bGTM-[A-Z0-9]{6,8}\b`)},
	{"Google AdSense", regexp.MustCompile(`\bca-pub-\d{16}\b`)},
	{"Facebook Pixel", regexp.MustCompile(`fbq\s*\(\s*['"]init['"]\s*,\s*['"](\d{15,16})['"]`)},
	{"Yandex Metrica", regexp.MustCompile(`\bym\s*\(\s*(\d{8,9})`)},
	{"Matomo", regexp.MustCompile(`_paq\.push\s*\(\s*\[\s*['"]setSiteId['"]\s*,\s*['"]?(\d+)['"]?\s*\]`)},
	{"Hotjar", regexp.MustCompile(`hjid\s*:\s*(\d{6,7})`)},
}

// AnalyticsIDs reports tracking IDs embedded in pages and scripts. The same
// ID on two sites links them to one operator.
type AnalyticsIDs struct{}

// NewAnalyticsIDs is the plugin factory.
func NewAnalyticsIDs() plugin.Plugin {
	return &AnalyticsIDs{}
}

func (p *AnalyticsIDs) Name() string              { return AnalyticsIDsName }
func (p *AnalyticsIDs) Category() plugin.Category { return plugin.CategoryGrep }
func (p *AnalyticsIDs) Description() string {
	return "Finds Google, Facebook, Yandex, Matomo and Hotjar tracking IDs in pages and scripts."
}

// Grep implements plugin.Grepper.
func (p *AnalyticsIDs) Grep(_ context.Context, env *plugin.Env, resp *transport.Response) error {
	if !isTextual(resp.ContentType()) {
		return nil
	}
	body := string(resp.Body)
	for _, tp := range trackerPatterns {
		seen := make(map[string]struct{})
		for _, m := range tp.re.FindAllStringSubmatch(body, -1) {
			id := m[len(m)-1]
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			f := model.NewFinding(model.KindInfo, "analytics_id", tp.tracker+" ID",
				"The "+tp.tracker+" ID "+id+" can link this site to others run by the same operator.")
			f.URL = resp.URL.String()
			f.Evidence = id
			f.ResponseIDs = []int64{resp.ID}
			env.Report(p, f)
		}
	}
	return nil
}
