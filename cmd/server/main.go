package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/common/otel"
	"issuemind.app/triage/core/config"
	"issuemind.app/triage/internal/bootstrap"
	"issuemind.app/triage/internal/http/middleware"
	httprouter "issuemind.app/triage/internal/http/router"
	"issuemind.app/triage/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "issuemind server starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"queue_backend", cfg.Queue.Backend)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// With an in-process queue this process is also the job runner.
	var pool *worker.Pool
	if cfg.RunsEmbeddedWorker() {
		result, err := worker.Recover(ctx, rt.Stores, rt.Producer, rt.Status)
		if err != nil {
			slog.ErrorContext(ctx, "failed to recover tasks", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "task recovery complete",
			"interrupted", result.Interrupted,
			"republished", result.Republished,
			"skipped", result.Skipped)

		processor, err := rt.NewProcessor()
		if err != nil {
			slog.ErrorContext(ctx, "failed to create task processor", "error", err)
			os.Exit(1)
		}
		pool = worker.NewPool(rt.Memory, processor, worker.ConfigFrom(cfg))
		go func() {
			if err := pool.Run(ctx); err != nil {
				slog.ErrorContext(ctx, "embedded worker pool stopped", "error", err)
			}
		}()
	}

	scheduler := worker.NewScheduler(rt.Stores.Repositories(), rt.Services.Sync(), cfg.Sync.TickInterval)
	go scheduler.Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, rt)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the task status stream is long lived.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	scheduler.Stop()
	if pool != nil {
		stopped := make(chan struct{})
		go func() {
			pool.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			slog.WarnContext(ctx, "shutdown timeout exceeded, running tasks are recovered on next start")
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, rt *bootstrap.Runtime) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.TraceHeader(cfg.Queue.TraceHeaderName))

	httprouter.SetupRoutes(router, rt.Services, httprouter.RouterConfig{
		AdminAPIKey:         cfg.AdminAPIKey,
		GitHubWebhookSecret: cfg.GitHub.WebhookSecret,
		GitLabWebhookToken:  cfg.GitLab.WebhookToken,
		StatusSubscriber:    rt.Status,
	})

	return router
}

const banner = `
 _                                 _           _
(_)___ ___ _   _  ___ _ __ ___  (_)_ __   __| |
| / __/ __| | | |/ _ \ '_ ' _ \ | | '_ \ / _' |
| \__ \__ \ |_| |  __/ | | | | || | | | | (_| |
|_|___/___/\__,_|\___|_| |_| |_||_|_| |_|\__,_|
`
