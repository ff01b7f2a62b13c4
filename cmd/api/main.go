package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"connect4-server/internal/config"
	"connect4-server/internal/logger"
	"connect4-server/internal/server"
)

func gracefulShutdown(cfg config.Config, log *zap.Logger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting new upgrades before tearing rooms down.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http server forced to shutdown", zap.Error(err))
	}

	if err := customServer.Shutdown(ctx); err != nil {
		log.Warn("error during server shutdown", zap.Error(err))
	}

	done <- true
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	customServer, httpServer, err := server.NewServer(context.Background(), cfg, log)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	done := make(chan bool, 1)
	go gracefulShutdown(cfg, log, customServer, httpServer, done)

	log.Info("listening", zap.String("addr", httpServer.Addr), zap.Strings("allowed_origins", cfg.AllowedOrigins))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	<-done
	log.Info("graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
