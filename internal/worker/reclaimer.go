package worker

import (
	"context"
	"log/slog"
	"time"

	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/queue"
)

type ReclaimerConfig struct {
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer periodically takes over messages a crashed consumer read but
// never acked, and processes them again.
type Reclaimer struct {
	consumer  *queue.RedisConsumer
	cfg       ReclaimerConfig
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(consumer *queue.RedisConsumer, cfg ReclaimerConfig, processor queue.MessageProcessor) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reclaimer{
		consumer:  consumer,
		cfg:       cfg,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "issuemind.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			r.reclaimOnce(ctx)
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) {
	messages, err := r.consumer.Claim(ctx, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	slog.InfoContext(ctx, "reclaimed stale pending messages", "count", len(messages))

	for _, raw := range messages {
		msgID := raw.ID
		msgCtx := logger.WithLogFields(ctx, logger.LogFields{MessageID: &msgID})

		msg, err := queue.ParseMessage(raw)
		if err != nil {
			slog.ErrorContext(msgCtx, "failed to parse reclaimed message, acknowledging to prevent loop",
				"error", err)
			_ = r.consumer.Ack(msgCtx, queue.Message{ID: raw.ID, Raw: raw})
			continue
		}

		start := time.Now()
		if err := r.processor(msgCtx, msg); err != nil {
			slog.ErrorContext(msgCtx, "failed to process reclaimed message", "error", err)
			continue
		}
		slog.InfoContext(msgCtx, "reclaimed message processed",
			"task_id", msg.TaskID,
			"duration_ms", time.Since(start).Milliseconds())
	}
}
