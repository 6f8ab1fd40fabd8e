package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nao1215/webscan/internal/config"
	"github.com/nao1215/webscan/internal/core"
	"github.com/nao1215/webscan/internal/log"
	"github.com/nao1215/webscan/internal/metrics"
	"github.com/nao1215/webscan/internal/output"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/plugins"
	"github.com/nao1215/webscan/internal/plugins/audit"
	"github.com/nao1215/webscan/internal/plugins/crawl"
	"github.com/nao1215/webscan/internal/plugins/infrastructure"
	"github.com/nao1215/webscan/internal/plugins/outputs"
	"github.com/nao1215/webscan/internal/transport"
	"github.com/spf13/cobra"
)

// errForcedExit is returned when the user interrupts the scan a second time
// while webscan waits for it to stop.
var errForcedExit = errors.New("forced exit before the scan stopped")

// defaultPlugins is the selection used when neither a profile nor a flag
// enables any plugin.
var defaultPlugins = map[plugin.Category][]string{
	plugin.CategoryInfrastructure: {infrastructure.ServerHeaderName},
	plugin.CategoryCrawl:          {crawl.SpiderName},
	plugin.CategoryAudit:          {audit.SensitiveFilesName},
	plugin.CategoryGrep:           {"all"},
	plugin.CategoryOutput:         {outputs.ConsoleName},
}

// pluginOption is one -O assignment or profile option.
type pluginOption struct {
	category plugin.Category
	plugin   string
	key      string
	value    string
}

// scanPlan is everything the scan command needs to configure the engine.
type scanPlan struct {
	cfg         *config.Config
	targets     []string
	plugins     map[plugin.Category][]string
	options     []pluginOption
	metricsAddr string
}

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [target...]",
		Short: "Scan web applications for security issues",
		Long: `Scan runs the enabled plugins against one or more targets.

The scan runs in phases:
- infrastructure plugins inspect the targets
- crawl plugins discover URLs, up to --depth links away
- audit plugins probe every discovered URL
- grep plugins inspect every HTTP response

Press Ctrl+C once to stop the scan gracefully. Press it again to exit
without waiting.

Examples:
  # Scan with the default plugins
  webscan scan https://example.com

  # Run a saved profile
  webscan scan --profile full_audit

  # Choose plugins and set plugin options
  webscan scan --crawl web_spider --audit sensitive_files --grep all \
    --output console,json_file -O output.json_file.output_file=report.json \
    https://example.com

  # Scan through a SOCKS5 proxy and expose Prometheus metrics
  webscan scan --proxy 127.0.0.1:9050 --metrics-addr :9090 https://example.com`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	cmd.Flags().StringP("profile", "P", "",
		"Profile name (in the profiles directory) or path")

	// Plugin selection
	cmd.Flags().StringSlice(string(plugin.CategoryInfrastructure), nil,
		"Infrastructure plugins to enable (comma-separated, \"all\" for every plugin)")
	cmd.Flags().StringSlice(string(plugin.CategoryCrawl), nil,
		"Crawl plugins to enable")
	cmd.Flags().StringSlice(string(plugin.CategoryAudit), nil,
		"Audit plugins to enable")
	cmd.Flags().StringSlice(string(plugin.CategoryGrep), nil,
		"Grep plugins to enable")
	cmd.Flags().StringSlice(string(plugin.CategoryOutput), nil,
		"Output plugins to enable (default: console)")
	cmd.Flags().StringArrayP("option", "O", nil,
		"Plugin option as category.plugin.key=value (repeatable)")

	// Misc settings
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum crawl depth (0 scans only the targets)")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkerThreads,
		"Number of worker goroutines")
	cmd.Flags().StringP("proxy", "x", "",
		"SOCKS5 proxy address (e.g., 127.0.0.1:9050)")
	cmd.Flags().Float64("rate-limit", 0,
		"Maximum requests per second (0 disables the limit)")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header")
	cmd.Flags().String("cookie", "",
		"Cookie sent with every request")
	cmd.Flags().StringArrayP("header", "H", nil,
		"Extra request header as \"Name: value\" (repeatable)")
	cmd.Flags().Duration("max-discovery-time", config.DefaultMaxDiscoveryTime,
		"Maximum duration of the crawl phase")
	cmd.Flags().Int("max-errors", config.DefaultMaxConsecutiveErrors,
		"Consecutive request failures after which the scan stops (0 disables)")
	cmd.Flags().Uint64("memory-limit", 0,
		"Heap size in bytes above which the scan is aborted (0 disables)")

	cmd.Flags().String("metrics-addr", "",
		"Expose Prometheus metrics on this address (e.g., :9090)")

	return cmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan(cmd, args)
	if err != nil {
		return err
	}
	if len(plan.targets) == 0 {
		return errors.New("no targets provided (specify one or more URLs as arguments or in the profile)")
	}

	logger := log.NewSecureLogger(cmd.ErrOrStderr(), plan.cfg.Verbose)
	slog.SetDefault(logger)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if plan.cfg.ProxyAddress != "" {
		if st := transport.CheckProxy(ctx, plan.cfg.ProxyAddress); st != transport.ProxyStatusOK {
			return fmt.Errorf("proxy check failed: %s (make sure a SOCKS5 proxy is running at %s)",
				st, plan.cfg.ProxyAddress)
		}
		logger.Info("proxy verified", "address", plan.cfg.ProxyAddress)
	}

	m := metrics.New()
	if plan.metricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, plan.metricsAddr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sink := output.NewManager(logger)
	c, err := core.New(plan.cfg, sink,
		core.WithLogger(logger),
		core.WithMetrics(m),
		core.WithRegistry(plugins.NewRegistry()),
	)
	if err != nil {
		return err
	}
	if err := plan.apply(c); err != nil {
		c.Quit(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runScan(ctx, c, sigCh, cmd.ErrOrStderr(), logger)
}

// runScan starts the scan and waits for it to end. The first signal stops
// the scan gracefully; a second one abandons the wait. Either way the
// engine quits and its temp directory is removed before runScan returns.
func runScan(ctx context.Context, c *core.Core, sigCh <-chan os.Signal, w io.Writer, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx)
	}()

	forced := make(chan struct{})
	go watchSignals(ctx, c, sigCh, forced, logger)

	select {
	case err := <-done:
		printPluginFailures(w, c)
		c.Quit(ctx)
		return err
	case <-forced:
		// Quit must not wait for the scan the user gave up on.
		quitCtx, cancel := context.WithCancel(context.Background())
		cancel()
		c.Quit(quitCtx)
		return errForcedExit
	}
}

// maxPrintedFailures caps the plugin failures listed after a scan.
const maxPrintedFailures = 10

// printPluginFailures lists the plugin failures of the last scan.
func printPluginFailures(w io.Writer, c *core.Core) {
	total := c.Exceptions().Len()
	if total == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d plugin failure(s) during the scan:\n", total)
	records := c.Exceptions().Records()
	for i, r := range records {
		if i == maxPrintedFailures {
			break
		}
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if total > min(len(records), maxPrintedFailures) {
		fmt.Fprintf(w, "  ... and %d more\n", total-min(len(records), maxPrintedFailures))
	}
}

// watchSignals calls Core.Stop on the first signal and closes forced on the
// second one.
func watchSignals(ctx context.Context, c *core.Core, sigCh <-chan os.Signal, forced chan<- struct{}, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-sigCh:
	}
	logger.Warn("received shutdown signal, stopping the scan (press Ctrl+C again to exit now)")

	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCtx.Done():
		case <-sigCh:
			cancel()
			close(forced)
		}
	}()
	c.Stop(stopCtx)
}

// apply hands the plan to the engine and creates the plugin instances.
func (p *scanPlan) apply(c *core.Core) error {
	if err := c.Targets().Set(p.targets...); err != nil {
		return err
	}
	for _, cat := range plugin.Categories() {
		if names, ok := p.plugins[cat]; ok {
			if err := c.Plugins().SetEnabled(cat, names...); err != nil {
				return err
			}
		}
	}
	for _, o := range p.options {
		if err := c.Plugins().SetOption(o.category, o.plugin, o.key, o.value); err != nil {
			return err
		}
	}
	return c.InitPlugins()
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildPlan merges the defaults, the profile and the command line flags, in
// that order of precedence.
func buildPlan(cmd *cobra.Command, args []string) (*scanPlan, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	plan := &scanPlan{
		cfg:     cfg,
		plugins: make(map[plugin.Category][]string),
	}

	profileRef, err := cmd.Flags().GetString("profile")
	if err != nil {
		return nil, err
	}
	if profileRef != "" {
		if err := plan.loadProfile(profileRef); err != nil {
			return nil, err
		}
	}

	if err := applyMiscFlags(cmd, cfg); err != nil {
		return nil, err
	}

	for _, cat := range plugin.Categories() {
		if !cmd.Flags().Changed(string(cat)) {
			continue
		}
		names, err := cmd.Flags().GetStringSlice(string(cat))
		if err != nil {
			return nil, err
		}
		plan.plugins[cat] = names
	}

	rawOptions, err := cmd.Flags().GetStringArray("option")
	if err != nil {
		return nil, err
	}
	for _, raw := range rawOptions {
		cat, name, key, value, err := config.ParseOption(raw)
		if err != nil {
			return nil, err
		}
		if err := plan.addOption(cat, name, key, value); err != nil {
			return nil, err
		}
	}

	if len(args) > 0 {
		plan.targets = args
	}

	if !plan.selectsScanPlugins() {
		for cat, names := range defaultPlugins {
			if _, ok := plan.plugins[cat]; !ok {
				plan.plugins[cat] = names
			}
		}
	}
	if len(plan.plugins[plugin.CategoryOutput]) == 0 {
		plan.plugins[plugin.CategoryOutput] = []string{outputs.ConsoleName}
	}

	plan.metricsAddr, err = cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// loadProfile resolves and reads a profile and copies it into the plan.
func (p *scanPlan) loadProfile(ref string) error {
	path := config.FindProfile(ref, p.cfg.HomeDir)
	if path == "" {
		return fmt.Errorf("%w: %s", config.ErrProfileNotFound, ref)
	}
	profile, err := config.LoadProfile(path)
	if err != nil {
		return err
	}

	profile.ApplyTo(p.cfg)
	p.targets = profile.Targets
	for rawCat, names := range profile.Plugins {
		cat, err := plugin.ParseCategory(rawCat)
		if err != nil {
			return fmt.Errorf("profile %s: %w", path, err)
		}
		p.plugins[cat] = names
	}
	for rawCat, byPlugin := range profile.Options {
		for name, kv := range byPlugin {
			for key, value := range kv {
				if err := p.addOption(rawCat, name, key, value); err != nil {
					return fmt.Errorf("profile %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

func (p *scanPlan) addOption(rawCat, name, key, value string) error {
	cat, err := plugin.ParseCategory(rawCat)
	if err != nil {
		return err
	}
	p.options = append(p.options, pluginOption{category: cat, plugin: name, key: key, value: value})
	return nil
}

// selectsScanPlugins reports whether any category that makes a scan do
// work was selected.
func (p *scanPlan) selectsScanPlugins() bool {
	for _, cat := range plugin.ScanCategories() {
		if _, ok := p.plugins[cat]; ok {
			return true
		}
	}
	return false
}

// applyMiscFlags copies the misc flags the user set onto cfg. Flags left at
// their default do not override the profile.
func applyMiscFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("depth") {
		if cfg.MaxDepth, err = flags.GetInt("depth"); err != nil {
			return err
		}
	}
	if flags.Changed("workers") {
		if cfg.WorkerThreads, err = flags.GetInt("workers"); err != nil {
			return err
		}
	}
	if flags.Changed("proxy") {
		if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
			return err
		}
	}
	if flags.Changed("rate-limit") {
		if cfg.RateLimit, err = flags.GetFloat64("rate-limit"); err != nil {
			return err
		}
	}
	if flags.Changed("user-agent") {
		if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
			return err
		}
	}
	if flags.Changed("cookie") {
		if cfg.Cookie, err = flags.GetString("cookie"); err != nil {
			return err
		}
	}
	if flags.Changed("header") {
		headers, err := flags.GetStringArray("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(name) == "" {
				return fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
			}
			cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if flags.Changed("max-discovery-time") {
		if cfg.MaxDiscoveryTime, err = flags.GetDuration("max-discovery-time"); err != nil {
			return err
		}
	}
	if flags.Changed("max-errors") {
		if cfg.MaxConsecutiveErrors, err = flags.GetInt("max-errors"); err != nil {
			return err
		}
	}
	if flags.Changed("memory-limit") {
		if cfg.MemoryLimit, err = flags.GetUint64("memory-limit"); err != nil {
			return err
		}
	}
	return nil
}
