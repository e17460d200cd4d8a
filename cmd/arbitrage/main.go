package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitrage-engine/internal/api"
	"arbitrage-engine/internal/config"
	"arbitrage-engine/internal/supervisor"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitStartupFailure = 2
	exitEmergencyStop  = 3
)

func main() {
	var (
		mode          = flag.String("mode", "", "override config mode: monitor or execute")
		noDashboard   = flag.Bool("no-dashboard", false, "disable the web dashboard regardless of config")
		healthCheck   = flag.Bool("health-check", false, "probe every configured venue once and exit")
		shutdownGrace = flag.Duration("shutdown-grace", supervisor.DefaultShutdownGrace, "max time to wait for in-flight executions on shutdown")
	)
	flag.Parse()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(exitConfigError)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *noDashboard {
		cfg.Dashboard.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(exitConfigError)
	}

	logger := newLogger(cfg.Logging)

	sup, err := supervisor.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to construct supervisor", "error", err)
		os.Exit(exitStartupFailure)
	}

	if *healthCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sup.HealthCheck(ctx); err != nil {
			logger.Error("health check failed", "error", err)
			os.Exit(exitStartupFailure)
		}
		logger.Info("health check passed")
		os.Exit(exitOK)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, sup, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "port", cfg.Dashboard.Port)
	}

	if err := sup.Start(); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(exitStartupFailure)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE: no orders will be placed")
	}
	logger.Info("arbitrage engine started", "mode", cfg.Mode, "venues", len(cfg.Venues))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-sup.Fatal():
		logger.Error("shutting down after emergency stop")
		exitCode = exitEmergencyStop
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("dashboard shutdown error", "error", err)
		}
	}
	sup.Stop(*shutdownGrace)

	os.Exit(exitCode)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
