package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/recordbase/recordbase-server/internal/config"
	"github.com/recordbase/recordbase-server/internal/logging"
	"github.com/recordbase/recordbase-server/internal/server"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("address", cfg.Address()),
		zap.String("engine", cfg.Storage.Engine))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	serveErr := srv.Serve(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}
	if serveErr != nil {
		logger.Fatal("Server stopped with error", zap.Error(serveErr))
	}
	logger.Info("Server stopped")
}
