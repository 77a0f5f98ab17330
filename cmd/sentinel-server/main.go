// Package main implements the Sentinel DLP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/actions"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/api"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/bundle"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/classify"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/config"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/rules"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/metrics"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/postgres"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("SENTINEL_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Service = "sentinel-server"

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting sentinel-server", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	tracer, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Service,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// Database
	db, err := postgres.NewFromDSN(cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Repositories
	policyRepo := postgres.NewPolicyRepository(db)
	agentRepo := postgres.NewAgentRepository(db)
	eventRepo := postgres.NewEventRepository(db)
	alertRepo := postgres.NewAlertRepository(db)

	// Metrics collectors
	eventMetrics := metrics.NewEventMetrics()
	policyMetrics := metrics.NewPolicyMetrics()
	bundleMetrics := metrics.NewBundleMetrics()
	agentMetrics := metrics.NewAgentMetrics()

	// Evaluation pipeline
	evaluator := rules.NewEvaluator(policyRepo, cfg.Policy.CacheTTL, logger)
	executor := actions.NewExecutor(logger,
		actions.WithAlertSink(alertRepo),
		actions.WithMetrics(policyMetrics),
		actions.WithQuarantineBase(cfg.Policy.QuarantinePath),
	)
	classifier := classify.New()
	processor := api.NewProcessor(logger, classifier, evaluator, executor, eventRepo).
		WithMetrics(eventMetrics, policyMetrics)

	// Router
	routerCfg := api.DefaultRouterConfig()
	routerCfg.Logger = logger
	routerCfg.MiddlewareConfig.APIKey = cfg.Server.APIKey
	routerCfg.MiddlewareConfig.Logger = logger
	if cfg.Telemetry.Enabled {
		routerCfg.Tracing = telemetry.Middleware(cfg.Service, nil)
	}

	router := api.NewRouter(routerCfg, &api.Services{
		Policies:        policyRepo,
		Agents:          agentRepo,
		Events:          eventRepo,
		Alerts:          alertRepo,
		Matcher:         evaluator,
		Bundles:         bundle.NewTransformer(),
		Processor:       processor,
		MinAgentVersion: cfg.Policy.MinAgentVersion,
		AgentMetrics:    agentMetrics,
		BundleMetrics:   bundleMetrics,
	})

	server, err := api.NewServer(router, &api.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
		TLSEnabled:      cfg.Server.TLSEnabled,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := server.StartAsync(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	server.SetReady(true)
	logger.Info("server listening", "addr", cfg.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
