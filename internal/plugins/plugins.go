// Package plugins registers the built-in plugins.
package plugins

import (
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/plugins/audit"
	"github.com/nao1215/webscan/internal/plugins/crawl"
	"github.com/nao1215/webscan/internal/plugins/grep"
	"github.com/nao1215/webscan/internal/plugins/infrastructure"
	"github.com/nao1215/webscan/internal/plugins/outputs"
)

// builtin lists the factories of every built-in plugin.
var builtin = []plugin.Factory{
	infrastructure.NewServerHeader,
	infrastructure.NewServiceBanners,
	crawl.NewSpider,
	audit.NewSensitiveFiles,
	grep.NewEmails,
	grep.NewEXIF,
	grep.NewSecurityHeaders,
	grep.NewPrivateKeys,
	grep.NewAnalyticsIDs,
	grep.NewCloudStorage,
	outputs.NewConsole,
	outputs.NewJSONFile,
	outputs.NewMarkdown,
	outputs.NewSQLite,
}

// RegisterAll registers the built-in plugins with r.
func RegisterAll(r *plugin.Registry) error {
	for _, f := range builtin {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the built-in plugins registered.
func NewRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	if err := RegisterAll(r); err != nil {
		// The built-in set is fixed; a failure here is a programming error.
		panic(err)
	}
	return r
}
