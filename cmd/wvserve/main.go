package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devatadev/gowvcdm/internal/config"
	"github.com/devatadev/gowvcdm/internal/logging"
	"github.com/devatadev/gowvcdm/internal/serve"
)

func main() {
	configPath := flag.String("config", "./serve.yaml", "path to the serve config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Serve.LogLevel, cfg.Serve.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = serve.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
