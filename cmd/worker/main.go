package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/common/otel"
	"issuemind.app/triage/core/config"
	"issuemind.app/triage/internal/bootstrap"
	"issuemind.app/triage/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "issuemind worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer,
		"concurrency", cfg.Worker.Concurrency)

	// Different node ID than the server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Tasks left running belong to a previous worker process.
	result, err := worker.Recover(ctx, rt.Stores, rt.Producer, rt.Status)
	if err != nil {
		slog.ErrorContext(ctx, "failed to recover tasks", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "task recovery complete",
		"interrupted", result.Interrupted,
		"republished", result.Republished,
		"skipped", result.Skipped)

	consumer, err := rt.NewRedisConsumer(ctx, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	processor, err := rt.NewProcessor()
	if err != nil {
		slog.ErrorContext(ctx, "failed to create task processor", "error", err)
		os.Exit(1)
	}

	pool := worker.NewPool(consumer, processor, worker.ConfigFrom(cfg))

	reclaimer := worker.NewReclaimer(consumer, worker.ReclaimerConfig{
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimInterval,
		BatchSize: 10,
	}, pool.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- pool.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first, it is quick. The pool may be mid AI call.
	reclaimer.Stop()

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-stopped:
		for range 2 {
			if err := <-errCh; err != nil {
				slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
			}
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 _                                 _           _                         _
(_)___ ___ _   _  ___ _ __ ___  (_)_ __   __| | __      _____  _ __| | _____ _ __
| / __/ __| | | |/ _ \ '_ ' _ \ | | '_ \ / _' | \ \ /\ / / _ \| '__| |/ / _ \ '__|
| \__ \__ \ |_| |  __/ | | | | || | | | | (_| |  \ V  V / (_) | |  |   <  __/ |
|_|___/___/\__,_|\___|_| |_| |_||_|_| |_|\__,_|   \_/\_/ \___/|_|  |_|\_\___|_|
`
