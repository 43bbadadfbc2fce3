package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/core/config"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service/issue_tracker"
	"issuemind.app/triage/internal/store"
)

const syncPageSize = 50

type SyncResult struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	RepositoryID int64     `json:"repository_id"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Closed       int       `json:"closed"`
	Unchanged    int       `json:"unchanged"`
	Coalesced    bool      `json:"coalesced"`
}

type SyncService interface {
	// SyncRepository mirrors the provider's issues into the store. Concurrent
	// calls for one repository share a single run.
	SyncRepository(ctx context.Context, repositoryID int64) (*SyncResult, error)
}

type syncService struct {
	stores    *store.Stores
	txRunner  TxRunner
	providers *issue_tracker.Registry
	cfg       config.SyncConfig
	group     singleflight.Group
	now       func() time.Time
}

func NewSyncService(stores *store.Stores, txRunner TxRunner, providers *issue_tracker.Registry, cfg config.SyncConfig) SyncService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &syncService{
		stores:    stores,
		txRunner:  txRunner,
		providers: providers,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *syncService) SyncRepository(ctx context.Context, repositoryID int64) (*SyncResult, error) {
	leader := false
	// The run outlives a caller that gives up so joined callers still get a result.
	ch := s.group.DoChan(strconv.FormatInt(repositoryID, 10), func() (any, error) {
		leader = true
		return s.sync(context.WithoutCancel(ctx), repositoryID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*SyncResult)
		result.Coalesced = !leader
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type issueChange struct {
	issue    model.Issue
	comments []model.Comment
}

func (s *syncService) sync(ctx context.Context, repositoryID int64) (*SyncResult, error) {
	repo, err := s.stores.Repositories().GetByID(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepositoryID: &repo.ID,
		Component:    "issuemind.service.sync",
	})

	provider, err := s.providers.Get(repo.Provider)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{RepositoryID: repo.ID, StartedAt: s.now()}
	ref := repo.Ref()

	slog.InfoContext(ctx, "repository sync started",
		"repository", repo.FullName(),
		"provider", repo.Provider,
		"since", repo.SyncCursor)

	meta, err := withProviderRetry(ctx, s.cfg, "get repository", func() (*issue_tracker.RepositoryMetadata, error) {
		return provider.GetRepository(ctx, ref)
	})
	if err != nil {
		return nil, s.fail(ctx, repo.ID, err)
	}

	repo.ExternalID = meta.ExternalID
	repo.Description = meta.Description
	repo.Language = meta.Language
	repo.URL = meta.URL
	repo.Stars = meta.Stars
	repo.LastActivityAt = meta.LastActivityAt
	if err := s.stores.Repositories().UpdateMetadata(ctx, repo); err != nil {
		return nil, fmt.Errorf("updating repository metadata: %w", err)
	}

	remote, err := withProviderRetry(ctx, s.cfg, "list issues", func() ([]model.Issue, error) {
		return provider.ListIssues(ctx, ref, repo.SyncCursor)
	})
	if err != nil {
		return nil, s.fail(ctx, repo.ID, err)
	}

	states, err := s.stores.Issues().ListSyncStates(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("loading issue sync state: %w", err)
	}

	cursor := repo.SyncCursor
	for start := 0; start < len(remote); start += syncPageSize {
		end := min(start+syncPageSize, len(remote))

		changes := make([]issueChange, 0, end-start)
		for _, issue := range remote[start:end] {
			if cursor == nil || issue.UpdatedAt.After(*cursor) {
				updated := issue.UpdatedAt
				cursor = &updated
			}

			issue.RepositoryID = repo.ID
			issue.ContentHash = issue.ComputeContentHash()

			stored, known := states[issue.Number]
			switch {
			case !known:
				result.Created++
			case stored.UpdatedAt.Equal(issue.UpdatedAt) && stored.State == issue.State && stored.ContentHash == issue.ContentHash:
				result.Unchanged++
				continue
			case stored.State == model.IssueStateOpen && issue.State == model.IssueStateClosed:
				result.Closed++
			default:
				result.Updated++
			}

			var comments []model.Comment
			if issue.CommentCount > 0 {
				number := issue.Number
				comments, err = withProviderRetry(ctx, s.cfg, "list comments", func() ([]model.Comment, error) {
					return provider.ListComments(ctx, ref, number)
				})
				if err != nil {
					return nil, s.fail(ctx, repo.ID, err)
				}
			}
			for i := range comments {
				comments[i].ID = id.New()
			}

			issue.ID = id.New()
			changes = append(changes, issueChange{issue: issue, comments: comments})
		}

		if len(changes) == 0 {
			continue
		}

		if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
			for i := range changes {
				stored, err := sp.Issues().Upsert(ctx, &changes[i].issue)
				if err != nil {
					return fmt.Errorf("upserting issue #%d: %w", changes[i].issue.Number, err)
				}
				if err := sp.Issues().UpsertComments(ctx, stored.ID, changes[i].comments); err != nil {
					return fmt.Errorf("upserting comments of #%d: %w", changes[i].issue.Number, err)
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("writing issue page: %w", err)
		}
	}

	result.FinishedAt = s.now()
	if err := s.stores.Repositories().MarkSynced(ctx, repo.ID, result.FinishedAt, cursor); err != nil {
		return nil, fmt.Errorf("marking repository synced: %w", err)
	}

	slog.InfoContext(ctx, "repository sync finished",
		"repository", repo.FullName(),
		"created", result.Created,
		"updated", result.Updated,
		"closed", result.Closed,
		"unchanged", result.Unchanged,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())

	return result, nil
}

// fail records a short reason on the repository and returns err unchanged.
func (s *syncService) fail(ctx context.Context, repositoryID int64, err error) error {
	slog.ErrorContext(ctx, "repository sync failed", "error", err)
	if recErr := s.stores.Repositories().RecordSyncError(ctx, repositoryID, syncErrorMessage(err), s.now()); recErr != nil {
		slog.WarnContext(ctx, "failed to record sync error", "error", recErr)
	}
	return err
}

func syncErrorMessage(err error) string {
	switch {
	case errors.Is(err, issue_tracker.ErrProviderAuth):
		return "provider rejected the configured credentials"
	case errors.Is(err, issue_tracker.ErrProviderNotFound):
		return "repository not found on provider"
	case errors.Is(err, issue_tracker.ErrProviderUnavailable):
		return "provider unavailable"
	default:
		return "sync failed"
	}
}

// withProviderRetry retries transient provider failures with exponential
// backoff. Auth and not-found errors return immediately.
func withProviderRetry[T any](ctx context.Context, cfg config.SyncConfig, op string, fn func() (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	delay := cfg.RetryBaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if !issue_tracker.IsRetryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		slog.WarnContext(ctx, "provider call failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}

	return zero, fmt.Errorf("%s: %w", op, err)
}
