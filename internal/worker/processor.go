package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/brain"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/store"
)

// errTaskNotRunning aborts the annotation write when the task left running
// while the backend was working on it.
var errTaskNotRunning = errors.New("task is no longer running")

// storeAttempts bounds in-process retries of the write that takes a task
// out of running.
const storeAttempts = 3

// Processor runs claimed AI tasks: it calls the backend, writes the
// annotation and completes or fails the task.
type Processor struct {
	stores      *store.Stores
	annotations service.AnnotationService
	backend     brain.Backend
	status      queue.StatusPublisher
	cfg         Config
	now         func() time.Time
}

func NewProcessor(stores *store.Stores, annotations service.AnnotationService, backend brain.Backend, status queue.StatusPublisher, cfg Config) *Processor {
	return &Processor{
		stores:      stores,
		annotations: annotations,
		backend:     backend,
		status:      status,
		cfg:         cfg.withDefaults(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TaskID:       &msg.TaskID,
		IssueID:      &msg.IssueID,
		RepositoryID: &msg.RepositoryID,
		TaskKind:     logger.Ptr(string(msg.Kind)),
		Component:    "issuemind.worker.processor",
	})

	claimed, task, err := p.stores.Tasks().Claim(ctx, msg.TaskID, p.now())
	if err != nil {
		return fmt.Errorf("claiming task: %w", err)
	}
	if !claimed {
		if msg.Attempt > 1 {
			return p.finishAbandoned(ctx, msg.TaskID)
		}
		// Cancelled, already handled, or a duplicate delivery.
		slog.InfoContext(ctx, "task not claimable, skipping")
		return nil
	}
	p.publish(ctx, *task)

	start := time.Now()
	result, err := p.run(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "task interrupted, left running for startup recovery",
				"attempts", task.Attempts)
			return nil
		}
		return p.fail(ctx, task, err)
	}

	if err := p.complete(ctx, task, result); err != nil {
		return err
	}

	slog.InfoContext(ctx, "task completed",
		"backend", p.backend.Name(),
		"attempts", task.Attempts,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// run calls the backend, retrying transient failures with capped
// exponential backoff. The task stays running throughout.
func (p *Processor) run(ctx context.Context, task *model.Task) (*brain.Result, error) {
	content, err := p.loadContent(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	delay := p.cfg.AIRetryBaseDelay
	for attempt := 1; ; attempt++ {
		task.Attempts = attempt
		if err := p.stores.Tasks().RecordAttempt(ctx, task.ID, attempt); err != nil {
			return nil, fmt.Errorf("recording attempt: %w", err)
		}

		result, err := p.call(ctx, task.Kind, content)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !brain.IsRetryable(err) || attempt >= p.cfg.AIMaxAttempts {
			return nil, err
		}

		slog.WarnContext(ctx, "backend call failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if p.cfg.AIRetryMaxDelay > 0 && delay > p.cfg.AIRetryMaxDelay {
			delay = p.cfg.AIRetryMaxDelay
		}
	}
}

func (p *Processor) call(ctx context.Context, kind model.TaskKind, content brain.IssueContent) (*brain.Result, error) {
	if p.cfg.AICallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AICallTimeout)
		defer cancel()
	}
	result, err := p.backend.Run(ctx, kind, content)
	return result, brain.ClassifyError(err)
}

func (p *Processor) loadContent(ctx context.Context, task *model.Task) (brain.IssueContent, error) {
	issue, err := p.stores.Issues().GetByID(ctx, task.IssueID)
	if err != nil {
		return brain.IssueContent{}, fmt.Errorf("loading issue: %w", err)
	}
	issue.Comments, err = p.stores.Issues().ListComments(ctx, issue.ID)
	if err != nil {
		return brain.IssueContent{}, fmt.Errorf("loading comments: %w", err)
	}
	repo, err := p.stores.Repositories().GetByID(ctx, issue.RepositoryID)
	if err != nil {
		return brain.IssueContent{}, fmt.Errorf("loading repository: %w", err)
	}

	var others []model.Issue
	if task.Kind == model.TaskKindRelated {
		others, err = p.stores.Issues().ListByRepository(ctx, issue.RepositoryID)
		if err != nil {
			return brain.IssueContent{}, fmt.Errorf("loading candidate issues: %w", err)
		}
	}

	return brain.ContentFromIssue(*repo, *issue, others), nil
}

// complete writes the annotation and marks the task completed in one
// transaction.
func (p *Processor) complete(ctx context.Context, task *model.Task, result *brain.Result) error {
	at := p.now()

	patch, err := result.Patch(task.ID, at)
	if err != nil {
		return p.fail(ctx, task, err)
	}
	payload, err := result.Payload()
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("%w: %w", brain.ErrBackendPermanent, err))
	}

	err = p.retryStore(ctx, func() error {
		_, err := p.annotations.Apply(ctx, service.ApplyAnnotationParams{
			Patch:   patch,
			IssueID: task.IssueID,
			TaskID:  task.ID,
			Within: func(ctx context.Context, sp service.StoreProvider) error {
				ok, err := sp.Tasks().Complete(ctx, task.ID, payload, at)
				if err != nil {
					return err
				}
				if !ok {
					return errTaskNotRunning
				}
				return nil
			},
		})
		return err
	})
	if errors.Is(err, errTaskNotRunning) {
		slog.WarnContext(ctx, "task left running before its result was stored, discarding result")
		return nil
	}
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("storing annotation: %w", err))
	}

	task.Status = model.TaskStatusCompleted
	task.Result = payload
	task.CompletedAt = &at
	p.publish(ctx, *task)
	return nil
}

// fail records err on the task. It returns an error only when the failure
// itself could not be stored, so the message is redelivered.
func (p *Processor) fail(ctx context.Context, task *model.Task, cause error) error {
	reason := brain.FailureReason(cause)
	retryable := !errors.Is(cause, brain.ErrBackendPermanent) && !errors.Is(cause, brain.ErrMalformedIssue)
	return p.failWith(ctx, task, reason, retryable, cause)
}

func (p *Processor) failWith(ctx context.Context, task *model.Task, reason string, retryable bool, cause error) error {
	at := p.now()

	var ok bool
	err := p.retryStore(ctx, func() error {
		var err error
		ok, err = p.stores.Tasks().Fail(ctx, task.ID, reason, retryable, at)
		return err
	})
	if err != nil {
		return fmt.Errorf("failing task: %w (cause: %v)", err, cause)
	}
	if !ok {
		slog.WarnContext(ctx, "task already left running, failure not recorded", "cause", cause)
		return nil
	}

	task.Status = model.TaskStatusFailed
	task.FailureReason = reason
	task.Retryable = retryable
	task.CompletedAt = &at
	p.publish(ctx, *task)

	slog.ErrorContext(ctx, "task failed",
		"reason", reason,
		"retryable", retryable,
		"attempts", task.Attempts,
		"error", cause)
	return nil
}

// finishAbandoned handles a redelivered message whose task is still running.
// Redelivery means the worker that claimed it gave up without storing an
// outcome, so nothing else will move it out of running.
func (p *Processor) finishAbandoned(ctx context.Context, taskID int64) error {
	task, err := p.stores.Tasks().GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading redelivered task: %w", err)
	}
	if task.Status != model.TaskStatusRunning {
		slog.InfoContext(ctx, "task not claimable, skipping")
		return nil
	}
	slog.WarnContext(ctx, "redelivered task still running, failing it")
	return p.failWith(ctx, task, model.ReasonOutcomeLost, true, errors.New("outcome not recorded by previous delivery"))
}

// retryStore runs fn until it succeeds, returns errTaskNotRunning, or
// storeAttempts is reached.
func (p *Processor) retryStore(ctx context.Context, fn func() error) error {
	delay := p.cfg.StoreRetryDelay
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		if err = fn(); err == nil || errors.Is(err, errTaskNotRunning) {
			return err
		}
		if attempt == storeAttempts {
			break
		}
		slog.WarnContext(ctx, "store write failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
	}
	return err
}

func (p *Processor) publish(ctx context.Context, task model.Task) {
	if p.status == nil {
		return
	}
	if err := p.status.PublishStatus(ctx, task.StatusEvent(p.now())); err != nil {
		slog.WarnContext(ctx, "failed to publish task status", "error", err)
	}
}
