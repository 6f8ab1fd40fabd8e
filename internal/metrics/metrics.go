// Package metrics exposes Prometheus counters for scans: HTTP requests sent
// by the transport, findings reported by plugins, plugin failures and scan
// outcomes.
//
// Every method is safe to call on a nil *Metrics, so components can be used
// without metrics in tests and library code.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "webscan"

	subsystemHTTP   = "http"
	subsystemScan   = "scan"
	subsystemPlugin = "plugin"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	requestErrors   prometheus.Counter

	findings     *prometheus.CounterVec
	pluginErrors *prometheus.CounterVec

	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	activeScans  prometheus.Gauge
}

// New creates the collectors on a private registry together with the
// standard Go and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "HTTP responses received, by status class",
		},
		[]string{"code"},
	)
	m.requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to reading its body",
			Buckets:   prometheus.DefBuckets,
		},
	)
	m.requestErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "errors_total",
			Help:      "Requests that failed without a response",
		},
	)
	m.findings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "findings_total",
			Help:      "Findings added to the knowledge base, by kind and severity",
		},
		[]string{"kind", "severity"},
	)
	m.pluginErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPlugin,
			Name:      "errors_total",
			Help:      "Plugin failures captured during scans",
		},
		[]string{"phase", "plugin"},
	)
	m.scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Finished scans by outcome",
		},
		[]string{"outcome"},
	)
	m.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of scans",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)
	m.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Scans currently running",
		},
	)

	m.registry.MustRegister(
		m.requests, m.requestDuration, m.requestErrors,
		m.findings, m.pluginErrors,
		m.scans, m.scanDuration, m.activeScans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RequestDone records a received response.
func (m *Metrics) RequestDone(statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(statusClass(statusCode)).Inc()
	m.requestDuration.Observe(d.Seconds())
}

// RequestFailed records a request that produced no response.
func (m *Metrics) RequestFailed() {
	if m == nil {
		return
	}
	m.requestErrors.Inc()
}

// FindingReported records a finding.
func (m *Metrics) FindingReported(kind, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(kind, severity).Inc()
}

// PluginFailed records a captured plugin failure.
func (m *Metrics) PluginFailed(phase, plugin string) {
	if m == nil {
		return
	}
	m.pluginErrors.WithLabelValues(phase, plugin).Inc()
}

// ScanStarted increments the active scan gauge.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.activeScans.Inc()
}

// ScanFinished records the outcome and duration of a scan and decrements
// the active scan gauge.
func (m *Metrics) ScanFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeScans.Dec()
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already done
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
