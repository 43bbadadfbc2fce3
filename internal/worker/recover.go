package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/store"
)

type RecoveryResult struct {
	Interrupted int
	Republished int
	// Skipped tasks stay pending and are picked up by the next recovery.
	Skipped int
}

// Recover runs once at startup before any worker reads the queue. Tasks left
// running by a previous process are failed as retryable, and pending tasks
// are republished in creation order. Claims are compare-and-set, so a task
// whose message survived in the queue is still processed once.
func Recover(ctx context.Context, stores *store.Stores, producer queue.Producer, status queue.StatusPublisher) (*RecoveryResult, error) {
	now := time.Now().UTC()
	result := &RecoveryResult{}

	interrupted, err := stores.Tasks().FailAllRunning(ctx, model.ReasonInterrupted, now)
	if err != nil {
		return nil, fmt.Errorf("failing interrupted tasks: %w", err)
	}
	result.Interrupted = len(interrupted)
	for _, task := range interrupted {
		if status == nil {
			break
		}
		if err := status.PublishStatus(ctx, task.StatusEvent(now)); err != nil {
			slog.WarnContext(ctx, "failed to publish task status", "task_id", task.ID, "error", err)
		}
	}

	pending, err := stores.Tasks().ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}
	for _, task := range pending {
		if err := producer.Enqueue(ctx, queue.TaskMessage{
			Kind:         task.Kind,
			TraceID:      task.TraceID,
			TaskID:       task.ID,
			IssueID:      task.IssueID,
			RepositoryID: task.RepositoryID,
		}); err != nil {
			slog.WarnContext(ctx, "failed to republish pending task", "task_id", task.ID, "error", err)
			result.Skipped++
			continue
		}
		result.Republished++
	}

	slog.InfoContext(ctx, "task recovery finished",
		"interrupted", result.Interrupted,
		"republished", result.Republished,
		"skipped", result.Skipped)
	return result, nil
}
