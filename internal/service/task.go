package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/store"
)

type TaskService interface {
	// Enqueue records a pending task and hands it to the queue. It returns
	// as soon as the task is stored.
	Enqueue(ctx context.Context, issueID int64, kind model.TaskKind) (*model.Task, error)
	Get(ctx context.Context, taskID int64) (*model.Task, error)
	// Cancel fails a pending task. Running and terminal tasks are left alone.
	Cancel(ctx context.Context, taskID int64) (*model.Task, error)
	// Retry enqueues a fresh task for a failed, retryable one.
	Retry(ctx context.Context, taskID int64) (*model.Task, error)
}

type taskService struct {
	stores   *store.Stores
	producer queue.Producer
	status   queue.StatusPublisher
	now      func() time.Time
}

func NewTaskService(stores *store.Stores, producer queue.Producer, status queue.StatusPublisher) TaskService {
	return &taskService{
		stores:   stores,
		producer: producer,
		status:   status,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *taskService) Enqueue(ctx context.Context, issueID int64, kind model.TaskKind) (*model.Task, error) {
	return s.enqueue(ctx, issueID, kind, nil)
}

func (s *taskService) enqueue(ctx context.Context, issueID int64, kind model.TaskKind, retryOf *int64) (*model.Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskKind, kind)
	}

	issue, err := s.stores.Issues().GetByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("loading issue: %w", err)
	}

	task := &model.Task{
		CreatedAt:    s.now(),
		RetryOf:      retryOf,
		Kind:         kind,
		Status:       model.TaskStatusPending,
		TraceID:      logger.TraceIDFromContext(ctx),
		ID:           id.New(),
		RepositoryID: issue.RepositoryID,
		IssueID:      issue.ID,
	}
	if err := s.stores.Tasks().Create(ctx, task); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateActiveTask
		}
		return nil, fmt.Errorf("creating task: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TaskID:   &task.ID,
		IssueID:  &task.IssueID,
		TaskKind: logger.Ptr(string(kind)),
	})

	// The row is committed; a failed publish leaves it pending for startup recovery.
	if err := s.producer.Enqueue(ctx, queue.TaskMessage{
		Kind:         task.Kind,
		TraceID:      task.TraceID,
		TaskID:       task.ID,
		IssueID:      task.IssueID,
		RepositoryID: task.RepositoryID,
	}); err != nil {
		slog.WarnContext(ctx, "task stored but not queued", "error", err)
	}

	s.publish(ctx, *task)
	slog.InfoContext(ctx, "task enqueued", "retry_of", retryOf)
	return task, nil
}

func (s *taskService) Get(ctx context.Context, taskID int64) (*model.Task, error) {
	task, err := s.stores.Tasks().GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return task, nil
}

func (s *taskService) Cancel(ctx context.Context, taskID int64) (*model.Task, error) {
	cancelled, err := s.stores.Tasks().CancelPending(ctx, taskID, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancelling task: %w", err)
	}

	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, fmt.Errorf("%w: task is %s", ErrTaskNotCancellable, task.Status)
	}

	s.publish(ctx, *task)
	slog.InfoContext(ctx, "task cancelled", "task_id", task.ID)
	return task, nil
}

func (s *taskService) Retry(ctx context.Context, taskID int64) (*model.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusFailed || !task.Retryable {
		return nil, ErrTaskNotRetryable
	}
	return s.enqueue(ctx, task.IssueID, task.Kind, &task.ID)
}

func (s *taskService) publish(ctx context.Context, task model.Task) {
	if s.status == nil {
		return
	}
	if err := s.status.PublishStatus(ctx, task.StatusEvent(s.now())); err != nil {
		slog.WarnContext(ctx, "failed to publish task status", "error", err, "task_id", task.ID)
	}
}
