package main

import (
	"context"
	"os"

	"github.com/markdave123-py/doqmate/internal/app"
	"github.com/markdave123-py/doqmate/internal/config"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/queue"
)

// The worker consumes index tasks enqueued by cmd/api when QUEUE_BACKEND=redis.
// It must see the same UPLOAD_DIR as the API process.
func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.LogLevel)

	application, err := app.NewApp(context.Background(), cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	processor := queue.NewTaskProcessor(application.Ingestor, logger.L())
	srv, mux := queue.NewServer(cfg, processor, logger.L())

	logger.Info("index worker running", "redis", cfg.RedisAddr, "concurrency", cfg.IngestWorkers)
	// Run blocks until SIGTERM/SIGINT and drains in-flight tasks.
	if err := srv.Run(mux); err != nil {
		logger.Error("worker stopped", "error", err)
		application.Close()
		os.Exit(1)
	}
}
