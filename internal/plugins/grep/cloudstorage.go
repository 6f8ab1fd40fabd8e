package grep

import (
	"context"
	"regexp"
	"strings"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// CloudStorageName is the registry name of the cloud storage plugin.
const CloudStorageName = "cloud_storage"

// storagePatterns match the public endpoints of object storage services.
var storagePatterns = []struct {
	provider string
	re       *regexp.Regexp
}{
	{"AWS S3", regexp.MustCompile(`(?i)[a-z0-9][a-z0-9.-]*\.s3[.-](?:[a-z0-9-]+\.)?amazonaws\.com|s3[.-](?:[a-z0-9-]+\.)?amazonaws\.com/[a-z0-9][a-z0-9.-]+`)},
	{"Google Cloud Storage", regexp.MustCompile(`(?i)storage\.googleapis\.com/[a-z0-9][a-z0-9._-]+|[a-z0-9][a-z0-9._-]*\.storage\.googleapis\.com`)},
	{"Azure Blob Storage", regexp.MustCompile(`(?i)[a-z0-9]+\.blob\.core\.windows\.net`)},
	{"DigitalOcean Spaces", regexp.MustCompile(`(?i)[a-z0-9-]+\.[a-z0-9]+\.digitaloceanspaces\.com`)},
	{"Cloudflare R2", regexp.MustCompile(`(?i)[a-z0-9-]+\.r2\.dev`)},
	{"Firebase Realtime Database", regexp.MustCompile(`(?i)[a-z0-9-]+\.firebaseio\.com`)},
}

// CloudStorage reports object storage buckets referenced by responses. A
// referenced bucket is worth checking for public listing or write access.
type CloudStorage struct{}

// NewCloudStorage is the plugin factory.
func NewCloudStorage() plugin.Plugin {
	return &CloudStorage{}
}

func (p *CloudStorage) Name() string              { return CloudStorageName }
func (p *CloudStorage) Category() plugin.Category { return plugin.CategoryGrep }
func (p *CloudStorage) Description() string {
	return "Finds references to S3, GCS, Azure Blob and other object storage buckets."
}

// Grep implements plugin.Grepper.
func (p *CloudStorage) Grep(_ context.Context, env *plugin.Env, resp *transport.Response) error {
	if !isTextual(resp.ContentType()) {
		return nil
	}

	body := string(resp.Body)
	for _, sp := range storagePatterns {
		seen := make(map[string]struct{})
		for _, m := range sp.re.FindAllString(body, -1) {
			endpoint := strings.ToLower(m)
			if _, ok := seen[endpoint]; ok {
				continue
			}
			seen[endpoint] = struct{}{}

			f := model.NewFinding(model.KindInfo, "cloud_storage", sp.provider+" bucket",
				"The response references the "+sp.provider+" endpoint "+endpoint+".")
			f.URL = resp.URL.String()
			f.Evidence = endpoint
			f.ResponseIDs = []int64{resp.ID}
			env.Report(p, f)
		}
	}
	return nil
}
