package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/queue"
)

// Pool runs Concurrency workers, each reading and processing one message at
// a time. The worker count is the global limit on concurrent AI calls.
type Pool struct {
	consumer  queue.Consumer
	processor TaskProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPool(consumer queue.Consumer, processor TaskProcessor, cfg Config) *Pool {
	return &Pool{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg.withDefaults(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called. In-flight messages finish
// before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "issuemind.worker.pool"})
	slog.InfoContext(ctx, "worker pool started", "concurrency", p.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.loop(gctx, i)
		})
	}

	err := g.Wait()
	slog.InfoContext(ctx, "worker pool stopped")
	return err
}

// Stop signals the workers and waits for Run to return.
func (p *Pool) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Pool) loop(ctx context.Context, n int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		default:
		}

		messages, err := p.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "reading from queue failed", "worker", n, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			case <-p.stopCh:
			}
			continue
		}

		for _, msg := range messages {
			if err := p.ProcessMessage(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "message processing failed",
					"error", err,
					"worker", n,
					"message_id", msg.ID,
					"task_id", msg.TaskID)
			}
		}
	}
}

// ProcessMessage processes and acks one message, requeueing or dead
// lettering it when processing fails. Exported for the reclaimer.
func (p *Pool) ProcessMessage(ctx context.Context, msg queue.Message) error {
	if err := p.processSafe(ctx, msg); err != nil {
		p.handleFailedMessage(ctx, msg, err)
		return err
	}

	if err := p.consumer.Ack(ctx, msg); err != nil {
		// The message will be reclaimed; the claim makes that harmless.
		slog.WarnContext(ctx, "failed to ack message",
			"error", err,
			"message_id", msg.ID)
	}
	return nil
}

func (p *Pool) processSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"task_id", msg.TaskID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processor.Process(ctx, msg)
}

func (p *Pool) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= p.cfg.QueueMaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"task_id", msg.TaskID,
			"attempts", msg.Attempt)
		if dlqErr := p.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"task_id", msg.TaskID,
		"attempt", msg.Attempt)
	if requeueErr := p.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
