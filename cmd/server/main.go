package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/gsoltrack/service/config"
	"github.com/brojonat/gsoltrack/service/db"
	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/metrics"
	natspkg "github.com/brojonat/gsoltrack/service/nats"
	"github.com/brojonat/gsoltrack/service/server"
	"github.com/brojonat/gsoltrack/service/solana"
	"github.com/brojonat/gsoltrack/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"max_graph_degree", cfg.MaxGraphDegree,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply ledger schema", "error", err)
		os.Exit(1)
	}

	mint, err := solanago.PublicKeyFromBase58(cfg.GSOLMintAddress)
	if err != nil {
		logger.Error("invalid gSOL mint address", "error", err)
		os.Exit(1)
	}
	program, err := solanago.PublicKeyFromBase58(cfg.SunriseProgramID)
	if err != nil {
		logger.Error("invalid Sunrise program id", "error", err)
		os.Exit(1)
	}
	classifier := solana.NewClassifier(mint, program)

	var publisher natspkg.Publisher
	if cfg.NATSEnabled {
		p, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// With Temporal enabled the worker owns writes and publishing; the
	// server only starts workflows.
	var dispatcher ingest.Dispatcher
	if cfg.TemporalEnabled {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			cfg.TemporalResultWait,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		dispatcher = temporalClient
	} else {
		dispatcher = ingest.NewDirectDispatcher(store, publisher, metricsCollector, logger)
	}

	processor := ingest.NewProcessor(classifier, dispatcher, metricsCollector, logger)
	httpServer := server.New(cfg.ServerAddr, cfg, store, processor, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"gsol_mint", cfg.GSOLMintAddress,
		"nats_enabled", cfg.NATSEnabled,
		"temporal_enabled", cfg.TemporalEnabled,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
