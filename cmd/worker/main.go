package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoice-backend/internal/bootstrap"
	"invoice-backend/internal/shared/config"
	"invoice-backend/internal/shared/telemetry"
	"invoice-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel)
	defer telemetry.Sync()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is process-local; run the API instead or configure rabbitmq or sqs")
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := app.Workers()
	telemetry.Info("worker.started", map[string]any{
		"backend":     cfg.QueueBackend,
		"concurrency": len(workers),
		"timeout":     cfg.WorkerMessageTimeout.String(),
	})

	done := make(chan error, 1)
	go func() {
		done <- worker.RunAll(ctx, workers...)
	}()

	select {
	case err := <-done:
		if err != nil {
			telemetry.Error("worker.stopped", map[string]any{"error": err})
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	telemetry.Info("worker.shutdown.started", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	select {
	case err := <-done:
		if err != nil {
			telemetry.Error("worker.shutdown.failed", map[string]any{"error": err})
		}
		telemetry.Info("worker.shutdown.complete", nil)
	case <-time.After(cfg.ShutdownTimeout):
		telemetry.Warn("worker.shutdown.timeout", nil)
	}
}
