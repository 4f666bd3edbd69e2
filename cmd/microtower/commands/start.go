package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/marmos91/microtower/internal/demo"
	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/internal/telemetry"
	"github.com/marmos91/microtower/pkg/admin"
	"github.com/marmos91/microtower/pkg/config"
	"github.com/marmos91/microtower/pkg/metrics"
	mprom "github.com/marmos91/microtower/pkg/metrics/prometheus"
	"github.com/marmos91/microtower/pkg/runtime"
	"github.com/marmos91/microtower/pkg/shutdown"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the configured services",
	Long: `Resolve the service table and expose every configured service on its port.

The process runs in the foreground until SIGINT, SIGTERM or SIGQUIT, then
drains open connections for up to shutdown_timeout.

Examples:
  # Start with the default config file
  microtower start

  # Start with a custom config file
  microtower start --config /etc/microtower/config.yaml

  # Override settings from the environment
  MICROTOWER_LOGGING_LEVEL=DEBUG microtower start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		Services:       serviceNames(cfg.Services),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", "error", err)
		}
	}()

	path := configPath(GetConfigFile())
	source := path
	if source == "" {
		source = "defaults"
	}
	logger.Info("Configuration loaded", "source", source, "services", len(cfg.Services))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	var opts []runtime.Option
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		opts = append(opts, runtime.WithMetrics(mprom.New(metrics.InitRegistry())))
		metricsHandler = metrics.Handler()
		logger.Info("Metrics enabled")
	}

	rt := runtime.New(runtime.Config{ShutdownTimeout: cfg.ShutdownTimeout}, demo.Descriptors(), opts...)
	if err := demo.BindAll(rt, cfg.Services); err != nil {
		return err
	}

	if cfg.Admin.Enabled {
		rt.SetAPIServer(admin.NewServer(admin.Config{
			BindAddress:  cfg.Admin.BindAddress,
			Port:         cfg.Admin.Port,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
			IdleTimeout:  cfg.Admin.IdleTimeout,
		}, rt, metricsHandler))
		logger.Info("Admin API configured", "port", cfg.Admin.Port)
	}

	stopSignals := shutdown.HandleSignals(rt.Controller())
	defer stopSignals()

	if path != "" {
		if err := config.WatchLogLevel(path, logger.SetLevel); err != nil {
			logger.Warn("Log level hot reload disabled", "error", err)
		}
	}

	logger.Info("microtower is running. Press Ctrl+C to stop.")
	if err := rt.Serve(ctx); err != nil {
		logger.Error("Runtime stopped with errors", "error", err)
		return err
	}
	logger.Info("microtower stopped")
	return nil
}
