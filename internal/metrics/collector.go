// Package metrics exposes trace-pipeline metrics over Prometheus.
//
// The collector implements types.MetricsSink. Every counter the capture path
// touches is bound to its label value at construction time, so recording a
// capture or a drop is a single atomic add with no label formatting and no
// allocation.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagetrace/pagetrace/internal/recorder"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the standard metrics setup.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "pagetrace",
	}
}

// Collector gathers trace-pipeline metrics and serves them over HTTP.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	capturesTotal   prometheus.Counter
	dropsByReason   map[string]prometheus.Counter
	collectDuration prometheus.Histogram
	collectRecords  prometheus.Histogram
	collectErrors   prometheus.Counter
	resolutions     map[string]prometheus.Counter
	targetsGauge    prometheus.Gauge
	capacityGauge   prometheus.Gauge
	recordsGauge    prometheus.Gauge

	server *http.Server
}

// NewCollector creates a collector. A disabled config yields a collector
// whose sink methods are cheap no-ops and whose Start does nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	ns := config.Namespace

	c.capturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "captures_total",
		Help:      "Fault records appended to trace buffers",
	})

	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "drops_total",
		Help:      "Faults observed but not recorded, by reason",
	}, []string{"reason"})
	c.dropsByReason = make(map[string]prometheus.Counter)
	for _, reason := range []string{
		recorder.DropDisabled,
		recorder.DropNoFile,
		recorder.DropUnmonitored,
		recorder.DropFull,
	} {
		c.dropsByReason[reason] = drops.WithLabelValues(reason)
	}

	c.collectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "collect_duration_seconds",
		Help:      "Wall time of collect calls, including resolution",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	c.collectRecords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "collect_records",
		Help:      "Records returned per successful collect call",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})
	c.collectErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "collect_errors_total",
		Help:      "Collect calls that returned an error",
	})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "resolutions_total",
		Help:      "Handle-to-path resolutions, by outcome",
	}, []string{"outcome"})
	c.resolutions = make(map[string]prometheus.Counter)
	for _, outcome := range []string{
		recorder.ResolveOK,
		recorder.ResolveDeleted,
		recorder.ResolveError,
	} {
		c.resolutions[outcome] = resolutions.WithLabelValues(outcome)
	}

	c.targetsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "targets",
		Help:      "Currently registered trace targets",
	})
	c.capacityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "buffer_capacity_records",
		Help:      "Per-target trace buffer capacity",
	})
	c.recordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "records",
		Help:      "Fault records currently held across all trace buffers",
	})

	collectors := []prometheus.Collector{
		c.capturesTotal, drops,
		c.collectDuration, c.collectRecords, c.collectErrors,
		resolutions, c.targetsGauge, c.capacityGauge, c.recordsGauge,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Registry exposes the backing registry so the control plane can mount the
// handler itself instead of running a second server.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Stop stops the metrics server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// CaptureRecorded counts a recorded fault. Hot path: two atomic adds.
func (c *Collector) CaptureRecorded(pid int32) {
	if c.capturesTotal == nil {
		return
	}
	c.capturesTotal.Inc()
	c.recordsGauge.Inc()
}

// CaptureDropped counts a silently ignored fault. Hot path: the reason's
// counter child was bound at construction, so this is a map hit plus an
// atomic add.
func (c *Collector) CaptureDropped(reason string) {
	if c.dropsByReason == nil {
		return
	}
	if counter, ok := c.dropsByReason[reason]; ok {
		counter.Inc()
	}
}

// CollectObserved records the outcome of one collect call.
func (c *Collector) CollectObserved(targets, records int, duration time.Duration, err error) {
	if c.collectDuration == nil {
		return
	}
	c.collectDuration.Observe(duration.Seconds())
	if err != nil {
		c.collectErrors.Inc()
		return
	}
	c.collectRecords.Observe(float64(records))
}

// ResolutionObserved counts one handle resolution by outcome.
func (c *Collector) ResolutionObserved(outcome string) {
	if c.resolutions == nil {
		return
	}
	if counter, ok := c.resolutions[outcome]; ok {
		counter.Inc()
	}
}

// TargetsChanged records the registry shape after setup or reset. Both
// start every buffer empty, so the held-records gauge drops to zero here.
func (c *Collector) TargetsChanged(targets, capacity int) {
	if c.targetsGauge == nil {
		return
	}
	c.targetsGauge.Set(float64(targets))
	c.capacityGauge.Set(float64(capacity))
	c.recordsGauge.Set(0)
}
