package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/mazoea/internal/config"
	"github.com/jkaninda/mazoea/internal/gateway/httpapi"
	"github.com/jkaninda/mazoea/internal/observability"
	"github.com/jkaninda/mazoea/internal/pipeline"
	"github.com/jkaninda/mazoea/internal/ratelimit"
	"github.com/jkaninda/mazoea/internal/ritual"
	"github.com/jkaninda/mazoea/internal/scheduler"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverAddr       string
	serverEnableDocs bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ingestion pipeline, sweeper, and HTTP API",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `mazoea --config path` and `mazoea server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverAddr, "addr", "", "override HTTP listen address (e.g. :8980)")
		cmd.Flags().BoolVar(&serverEnableDocs, "docs", false, "serve generated OpenAPI docs")
	}
}

// runServer starts mazoea in server mode: message ingestion, the periodic
// lifecycle sweep, and the HTTP API.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("MAZOEA_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.Gateway.Addr = serverAddr
	}

	logger.Info("starting in server mode", slog.String("config", serverConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := sc.Obs.Registry()

	// Ingestion pipeline.
	pipe := pipeline.New(
		sc.Store.Relationships(),
		ritual.NewExtractor(ritual.DefaultRules()),
		sc.Engine,
		pipeline.NewMetrics(registry),
		logger,
		pipeline.WithTracer(sc.Obs.TracerOrNil().Tracer()),
	)
	defer pipe.Close()

	// Periodic sweep: idle re-evaluation, then break detection.
	sweeper := scheduler.New(
		sc.Store.Relationships(),
		sc.Engine,
		sc.Detector,
		scheduler.NewMetrics(registry),
		logger,
		scheduler.Config{
			CronExpression: cfg.Sweep.Cron(),
			MaxConcurrent:  cfg.Sweep.Concurrency(),
		},
	)
	cancelSweeper := sweeper.Start(ctx)
	defer cancelSweeper()
	logger.Debug("sweeper started",
		slog.String("cron", cfg.Sweep.Cron()),
		slog.Int("max_concurrent", cfg.Sweep.Concurrency()),
	)

	if sc.Obs != nil && sc.Obs.Health != nil {
		// Six default sweep periods of silence means the sweeper is stuck.
		sc.Obs.Health.AddCheck("sweep", observability.StalenessCheck(sweeper.LastCompleted, time.Hour))
		sc.Obs.Health.AddCheck("ingestion", observability.SaturationCheck(pipe.QueueLoad, 0.9))
	}

	// Per-relationship rate limiting (optional).
	var limiter *ratelimit.Limiter
	if rl := cfg.Gateway.RateLimit; rl != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		})
	}

	// HTTP API gateway.
	gwCfg := httpapi.Config{
		ListenAddr: cfg.Gateway.ListenAddr(),
		EnableDocs: serverEnableDocs,
		APIKey:     cfg.Gateway.APIKey,
	}
	if sc.Obs != nil {
		gwCfg.MetricsRegistry = registry
		gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		gwCfg.HealthChecker = sc.Obs.Health
		gwCfg.Metrics = sc.Obs.Metrics
		gwCfg.Tracer = sc.Obs.TracerOrNil().Tracer()
		gwCfg.Anomaly = sc.Obs.Anomaly
	}
	gw := httpapi.NewGateway(gwCfg, pipe, sc.Store, sc.Facade, sc.Engine, sc.Detector, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}
