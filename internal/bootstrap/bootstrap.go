// Package bootstrap builds the runtime shared by the server, the worker and
// the operator CLI from one configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/core/config"
	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/brain"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/service/issue_tracker"
	"issuemind.app/triage/internal/store"
	"issuemind.app/triage/internal/worker"
)

const memoryReadBlock = time.Second

type StatusStream interface {
	queue.StatusPublisher
	queue.StatusSubscriber
}

type Runtime struct {
	Config   config.Config
	DB       *db.DB
	Redis    *redis.Client
	Stores   *store.Stores
	Producer queue.Producer
	Status   StatusStream
	Services *service.Services

	// Memory is set when the queue lives in this process.
	Memory *queue.MemoryQueue
}

// Open connects the database (applying migrations), the queue backend and
// the issue trackers.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	slog.InfoContext(ctx, "database connected", "dialect", database.Dialect())

	rt := &Runtime{
		Config: cfg,
		DB:     database,
		Stores: store.NewStores(database.Queries()),
	}

	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			rt.Close()
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

		rt.Redis = client
		rt.Producer = queue.NewRedisProducer(client, cfg.Queue.RedisStream, nil)
		rt.Status = queue.NewRedisStatusStream(client, cfg.Worker.StatusStreamMaxLen)
	default:
		rt.Memory = queue.NewMemoryQueue(cfg.Queue.MemoryCapacity, memoryReadBlock, cfg.Queue.RequeueDelay)
		rt.Producer = rt.Memory
		rt.Status = queue.NewMemoryStatusStream()
		slog.InfoContext(ctx, "using in-process queue", "capacity", cfg.Queue.MemoryCapacity)
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Services = service.NewServices(
		rt.Stores,
		service.NewTxRunner(database),
		registry,
		rt.Producer,
		rt.Status,
		cfg.Sync,
	)
	return rt, nil
}

// NewRegistry registers both providers. Tokens are optional; public
// repositories sync anonymously within the provider's rate limits.
func NewRegistry(cfg config.Config) (*issue_tracker.Registry, error) {
	registry := issue_tracker.NewRegistry()

	gh, err := issue_tracker.NewGitHubProvider(cfg.GitHub.Token, cfg.GitHub.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	registry.Register(model.ProviderGitHub, gh)

	gl, err := issue_tracker.NewGitLabProvider(cfg.GitLab.Token, cfg.GitLab.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	registry.Register(model.ProviderGitLab, gl)

	if !cfg.GitHub.Enabled() {
		slog.Warn("GITHUB_TOKEN not set, github requests are unauthenticated")
	}
	if !cfg.GitLab.Enabled() {
		slog.Warn("GITLAB_TOKEN not set, gitlab requests are unauthenticated")
	}
	return registry, nil
}

// NewProcessor builds the task processor with the configured AI backend.
func (rt *Runtime) NewProcessor() (*worker.Processor, error) {
	backend, err := brain.NewBackend(rt.Config.AI)
	if err != nil {
		return nil, err
	}
	return worker.NewProcessor(
		rt.Stores,
		rt.Services.Annotations(),
		backend,
		rt.Status,
		worker.ConfigFrom(rt.Config),
	), nil
}

// NewRedisConsumer joins the task stream's consumer group. consumerSuffix
// distinguishes the reclaimer from the pool.
func (rt *Runtime) NewRedisConsumer(ctx context.Context, consumerSuffix string) (*queue.RedisConsumer, error) {
	if rt.Redis == nil {
		return nil, fmt.Errorf("redis consumer requires QUEUE_BACKEND=redis")
	}
	q := rt.Config.Queue
	return queue.NewRedisConsumer(ctx, rt.Redis, queue.ConsumerConfig{
		Stream:       q.RedisStream,
		Group:        q.RedisGroup,
		Consumer:     q.RedisConsumer + consumerSuffix,
		DLQStream:    q.RedisDLQStream,
		BatchSize:    1,
		Block:        5 * time.Second,
		RequeueDelay: q.RequeueDelay,
	})
}

// Close releases the queue and the database. The redis client is owned by
// the producer.
func (rt *Runtime) Close() {
	if rt.Producer != nil {
		if err := rt.Producer.Close(); err != nil {
			slog.Warn("closing queue producer", "error", err)
		}
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
