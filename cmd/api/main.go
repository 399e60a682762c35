package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/doqmate/internal/app"
	"github.com/markdave123-py/doqmate/internal/config"
	"github.com/markdave123-py/doqmate/internal/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	logger.Init(cfg.LogLevel)

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// With the redis backend indexing runs in cmd/worker.
	if cfg.QueueBackend != "redis" {
		application.Ingestor.Start(ctx)
	}

	srv := application.HTTPServer()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("doqmate is running", "port", cfg.Port, "queue", cfg.QueueBackend, "vector_store", cfg.VectorStore)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server stopped", "error", err)
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := application.Ingestor.Wait(); err != nil {
		logger.Warn("index workers stopped with error", "error", err)
	}
	logger.Info("shutdown complete")
}
