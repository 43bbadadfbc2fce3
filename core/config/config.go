package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"issuemind.app/triage/core/db"
)

type Config struct {
	OTel        OTelConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Sync        SyncConfig
	AI          AIConfig
	GitHub      GitHubConfig
	GitLab      GitLabConfig
	Env         string
	Port        string
	AdminAPIKey string
	DB          db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type QueueBackend string

const (
	QueueBackendRedis  QueueBackend = "redis"
	QueueBackendMemory QueueBackend = "memory"
)

type QueueConfig struct {
	Backend         QueueBackend
	RedisURL        string
	RedisStream     string
	RedisGroup      string
	RedisDLQStream  string
	RedisConsumer   string
	TraceHeaderName string
	MaxAttempts     int // queue-level redelivery bound before DLQ
	RequeueDelay    time.Duration
	MemoryCapacity  int
}

type WorkerConfig struct {
	Concurrency        int
	AICallTimeout      time.Duration
	AIMaxAttempts      int
	AIRetryBaseDelay   time.Duration
	AIRetryMaxDelay    time.Duration
	ReclaimMinIdle     time.Duration
	ReclaimInterval    time.Duration
	StatusStreamMaxLen int64
}

type SyncConfig struct {
	TickInterval    time.Duration
	DefaultInterval time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration
}

type AIConfig struct {
	Provider  string // "openai", "anthropic", or "heuristic"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
}

type GitHubConfig struct {
	Token         string
	BaseURL       string // Optional: GitHub Enterprise API URL
	WebhookSecret string
}

type GitLabConfig struct {
	Token        string
	BaseURL      string // Optional: self-hosted instance URL
	WebhookToken string
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
	ServiceTypeCLI    ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the API server
//   - .env.worker for the background worker
//   - .env.cli for the operator CLI
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("ISSUEMIND_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:         getEnv("ISSUEMIND_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", "sqlite://issuemind.db"),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "issuemind-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Queue: QueueConfig{
			Backend:         QueueBackend(getEnv("QUEUE_BACKEND", string(QueueBackendMemory))),
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:     getEnv("REDIS_STREAM", "issuemind_tasks"),
			RedisGroup:      getEnv("REDIS_CONSUMER_GROUP", "issuemind_workers"),
			RedisDLQStream:  getEnv("REDIS_DLQ_STREAM", "issuemind_tasks_dlq"),
			RedisConsumer:   getEnv("REDIS_CONSUMER_NAME", hostnameOr("worker")),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
			MaxAttempts:     getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			RequeueDelay:    getEnvDuration("QUEUE_REQUEUE_DELAY", time.Second),
			MemoryCapacity:  getEnvInt("QUEUE_MEMORY_CAPACITY", 1024),
		},
		Worker: WorkerConfig{
			Concurrency:        getEnvInt("WORKER_CONCURRENCY", 4),
			AICallTimeout:      getEnvDuration("AI_CALL_TIMEOUT", 90*time.Second),
			AIMaxAttempts:      getEnvInt("AI_MAX_ATTEMPTS", 3),
			AIRetryBaseDelay:   getEnvDuration("AI_RETRY_BASE_DELAY", time.Second),
			AIRetryMaxDelay:    getEnvDuration("AI_RETRY_MAX_DELAY", 30*time.Second),
			ReclaimMinIdle:     getEnvDuration("RECLAIM_MIN_IDLE", 5*time.Minute),
			ReclaimInterval:    getEnvDuration("RECLAIM_INTERVAL", time.Minute),
			StatusStreamMaxLen: int64(getEnvInt("STATUS_STREAM_MAX_LEN", 2000)),
		},
		Sync: SyncConfig{
			TickInterval:    getEnvDuration("SYNC_TICK_INTERVAL", 30*time.Second),
			DefaultInterval: getEnvDuration("SYNC_DEFAULT_INTERVAL", 10*time.Minute),
			MaxAttempts:     getEnvInt("SYNC_MAX_ATTEMPTS", 3),
			RetryBaseDelay:  getEnvDuration("SYNC_RETRY_BASE_DELAY", 2*time.Second),
		},
		AI: AIConfig{
			Provider:  getEnv("AI_PROVIDER", "openai"),
			APIKey:    getEnv("AI_API_KEY", ""),
			BaseURL:   getEnv("AI_BASE_URL", ""),
			Model:     getEnv("AI_MODEL", ""),
			MaxTokens: getEnvInt("AI_MAX_TOKENS", 4096),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			BaseURL:       getEnv("GITHUB_BASE_URL", ""),
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		GitLab: GitLabConfig{
			Token:        getEnv("GITLAB_TOKEN", ""),
			BaseURL:      getEnv("GITLAB_BASE_URL", ""),
			WebhookToken: getEnv("GITLAB_WEBHOOK_TOKEN", ""),
		},
	}

	if err := cfg.validate(serviceType); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate(serviceType ServiceType) error {
	switch c.Queue.Backend {
	case QueueBackendRedis, QueueBackendMemory:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q", QueueBackendRedis, QueueBackendMemory)
	}

	// The in-process queue cannot be shared with a separate worker process.
	if serviceType == ServiceTypeWorker && c.Queue.Backend == QueueBackendMemory {
		return fmt.Errorf("worker requires QUEUE_BACKEND=redis")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.Worker.AIMaxAttempts <= 0 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be positive")
	}

	if c.IsProduction() && c.AdminAPIKey == "" && serviceType == ServiceTypeServer {
		return fmt.Errorf("ADMIN_API_KEY is required in production")
	}

	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RunsEmbeddedWorker reports whether the server process must run the job
// runner itself because the queue lives in memory.
func (c Config) RunsEmbeddedWorker() bool {
	return c.Queue.Backend == QueueBackendMemory
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c GitHubConfig) Enabled() bool {
	return c.Token != ""
}

func (c GitLabConfig) Enabled() bool {
	return c.Token != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}
