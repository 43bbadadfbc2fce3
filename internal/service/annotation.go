package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
)

const (
	maxAnnotationAttempts = 8
	annotationRetryBase   = 5 * time.Millisecond
)

type ApplyAnnotationParams struct {
	Patch   model.AnnotationPatch
	IssueID int64
	TaskID  int64
	// Within runs in the same transaction after the new version is current.
	// An error rolls the whole write back.
	Within func(ctx context.Context, sp StoreProvider) error
}

type AnnotationService interface {
	// Apply writes a new version holding the head's groups with the patch's
	// group replaced and makes it current.
	Apply(ctx context.Context, params ApplyAnnotationParams) (*model.Annotation, error)
	Get(ctx context.Context, issueID int64) (*model.Annotation, error)
	History(ctx context.Context, issueID int64) ([]model.Annotation, error)
}

type annotationService struct {
	stores   *store.Stores
	txRunner TxRunner
	now      func() time.Time
}

func NewAnnotationService(stores *store.Stores, txRunner TxRunner) AnnotationService {
	return &annotationService{
		stores:   stores,
		txRunner: txRunner,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *annotationService) Apply(ctx context.Context, params ApplyAnnotationParams) (*model.Annotation, error) {
	if err := validatePatch(params.Patch); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxAnnotationAttempts; attempt++ {
		ann, err := s.applyOnce(ctx, params)
		if err == nil {
			if attempt > 1 {
				slog.DebugContext(ctx, "annotation applied after conflict",
					"issue_id", params.IssueID,
					"attempts", attempt)
			}
			return ann, nil
		}
		if !errors.Is(err, errAnnotationConflict) {
			return nil, err
		}

		// Full jitter so competing writers spread out.
		backoff := annotationRetryBase << (attempt - 1)
		select {
		case <-time.After(time.Duration(rand.Int64N(int64(backoff)) + 1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("applying annotation to issue %d: too much contention", params.IssueID)
}

func (s *annotationService) applyOnce(ctx context.Context, params ApplyAnnotationParams) (*model.Annotation, error) {
	var next model.Annotation

	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if _, err := sp.Issues().GetByID(ctx, params.IssueID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIssueNotFound
			}
			return fmt.Errorf("loading issue: %w", err)
		}

		head, err := sp.Annotations().Get(ctx, params.IssueID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading annotation head: %w", err)
		}

		var expected int64
		if head != nil {
			expected = head.Version
		}

		next = params.Patch.Merge(head)
		next.IssueID = params.IssueID
		next.Version = expected + 1
		next.UpdatedByTaskID = params.TaskID
		next.UpdatedAt = s.now()

		if err := sp.Annotations().InsertVersion(ctx, &next); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errAnnotationConflict
			}
			return fmt.Errorf("inserting annotation version: %w", err)
		}

		swapped, err := sp.Annotations().SwapHead(ctx, &next, expected)
		if err != nil {
			return fmt.Errorf("swapping annotation head: %w", err)
		}
		if !swapped {
			return errAnnotationConflict
		}

		if params.Within != nil {
			return params.Within(ctx, sp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func validatePatch(p model.AnnotationPatch) error {
	var ok bool
	switch p.Kind {
	case model.TaskKindSummary:
		ok = p.Summary != nil
	case model.TaskKindFix:
		ok = p.Fix != nil
	case model.TaskKindExplain:
		ok = p.Explain != nil
	case model.TaskKindRelated:
		ok = p.Related != nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTaskKind, p.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: patch is missing its %s group", ErrInvalidInput, p.Kind)
	}
	return nil
}

func (s *annotationService) Get(ctx context.Context, issueID int64) (*model.Annotation, error) {
	ann, err := s.stores.Annotations().Get(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAnnotationNotFound
		}
		return nil, fmt.Errorf("getting annotation: %w", err)
	}
	return ann, nil
}

func (s *annotationService) History(ctx context.Context, issueID int64) ([]model.Annotation, error) {
	history, err := s.stores.Annotations().History(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("getting annotation history: %w", err)
	}
	if len(history) == 0 {
		if _, err := s.stores.Issues().GetByID(ctx, issueID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrIssueNotFound
			}
			return nil, fmt.Errorf("getting issue: %w", err)
		}
	}
	return history, nil
}
