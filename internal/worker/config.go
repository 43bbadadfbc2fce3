package worker

import (
	"time"

	"issuemind.app/triage/core/config"
)

type Config struct {
	Concurrency      int
	QueueMaxAttempts int
	AICallTimeout    time.Duration
	AIMaxAttempts    int
	AIRetryBaseDelay time.Duration
	AIRetryMaxDelay  time.Duration
	StoreRetryDelay  time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Concurrency:      cfg.Worker.Concurrency,
		QueueMaxAttempts: cfg.Queue.MaxAttempts,
		AICallTimeout:    cfg.Worker.AICallTimeout,
		AIMaxAttempts:    cfg.Worker.AIMaxAttempts,
		AIRetryBaseDelay: cfg.Worker.AIRetryBaseDelay,
		AIRetryMaxDelay:  cfg.Worker.AIRetryMaxDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.QueueMaxAttempts <= 0 {
		c.QueueMaxAttempts = 3
	}
	if c.AIMaxAttempts <= 0 {
		c.AIMaxAttempts = 1
	}
	if c.StoreRetryDelay <= 0 {
		c.StoreRetryDelay = 200 * time.Millisecond
	}
	if c.AIRetryMaxDelay > 0 && c.AIRetryBaseDelay > c.AIRetryMaxDelay {
		c.AIRetryBaseDelay = c.AIRetryMaxDelay
	}
	return c
}
