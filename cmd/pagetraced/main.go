// pagetraced is the page-fault tracing daemon: it mounts the read-observation
// filesystem over the traced directory, records per-process fault footprints,
// and serves the control API for setup, collection and export.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagetrace/pagetrace/internal/config"
	"github.com/pagetrace/pagetrace/internal/export"
	"github.com/pagetrace/pagetrace/internal/hint"
	"github.com/pagetrace/pagetrace/internal/hook"
	"github.com/pagetrace/pagetrace/internal/meminfo"
	"github.com/pagetrace/pagetrace/internal/metrics"
	"github.com/pagetrace/pagetrace/internal/recorder"
	"github.com/pagetrace/pagetrace/internal/resolver"
	"github.com/pagetrace/pagetrace/pkg/api"
	"github.com/pagetrace/pagetrace/pkg/health"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

const version = "0.2.0"

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagetraced %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pagetraced: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile)
	if err != nil {
		return err
	}

	format := utils.FormatText
	if cfg.Global.LogFormat == "json" {
		format = utils.FormatJSON
	}
	slog, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  logger.Level(),
		Output: logger.Output(),
		Format: format,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent(health.ComponentRecorder)

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "pagetrace",
	})
	if err != nil {
		return fmt.Errorf("building metrics collector: %w", err)
	}
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}

	monitor := meminfo.NewMonitor(meminfo.MonitorConfig{
		SampleInterval: cfg.Trace.MeminfoInterval,
		Logger:         slog.WithComponent("meminfo"),
	})
	if cfg.Trace.MeminfoInterval > 0 {
		tracker.RegisterComponent(health.ComponentMeminfo)
		if err := monitor.Start(ctx); err != nil {
			return fmt.Errorf("starting meminfo monitor: %w", err)
		}
		defer monitor.Stop()
	}

	hints := hint.New()
	mode := cfg.Hint.Mode
	if mode == "" {
		mode = "none"
	}
	if err := hints.Apply(hint.State{
		Enabled:        cfg.Hint.Enabled,
		Mode:           mode,
		MinFileCacheKB: cfg.Hint.MinFileCacheKB,
	}); err != nil {
		return fmt.Errorf("seeding hint flags: %w", err)
	}

	rec := recorder.New(recorder.Config{
		Resolver:   &resolver.ProcResolver{},
		Logger:     logger.WithPrefix("recorder"),
		Metrics:    collector,
		MaxRecords: cfg.Trace.MaxRecords,
	})

	var mount *hook.MountManager
	if cfg.Hook.Enabled {
		tracker.RegisterComponent(health.ComponentHook)
		mount = hook.NewMountManager(cfg.Hook, rec, slog.WithComponent("hook"))
		if err := mount.Mount(ctx); err != nil {
			tracker.RecordError(health.ComponentHook, err)
			return fmt.Errorf("mounting observation filesystem: %w", err)
		}
		tracker.SetComponentMetadata(health.ComponentHook, "mountpoint", cfg.Hook.Mountpoint)
		defer func() {
			if err := mount.Unmount(); err != nil {
				logger.Error("Unmount failed: %v", err)
			}
		}()
	}

	apiOpts := []api.Option{
		api.WithLogger(logger.WithPrefix("api")),
		api.WithHealthTracker(tracker),
	}
	if cfg.Export.Enabled {
		tracker.RegisterComponent(health.ComponentExporter)
		uploader, err := export.NewUploader(ctx, cfg.Export, slog.WithComponent("export"))
		if err != nil {
			return fmt.Errorf("building footprint uploader: %w", err)
		}
		apiOpts = append(apiOpts, api.WithUploader(uploader))
	}

	apiCfg := api.DefaultServerConfig()
	apiCfg.Address = fmt.Sprintf(":%d", cfg.Global.APIPort)
	if cfg.Export.Timeout > 0 {
		apiCfg.UploadTimeout = cfg.Export.Timeout
	}
	server := api.NewServer(apiCfg, rec, hints, apiOpts...)
	server.StartBackground()

	logger.Info("pagetraced %s up: api=%s metrics=:%d hook=%v export=%v",
		version, apiCfg.Address, cfg.Global.MetricsPort, cfg.Hook.Enabled, cfg.Export.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown: %v", err)
	}

	rec.Stop()
	rec.Reset()
	cancel()
	return nil
}
