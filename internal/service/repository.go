package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
)

type RegisterRepositoryParams struct {
	Provider     model.Provider
	Owner        string
	Name         string
	SyncInterval time.Duration // zero means the configured default
}

type RegisterRepositoryResult struct {
	Repository *model.Repository
	Sync       *SyncResult
	// SyncErr is the first sync's failure. Registration itself succeeded.
	SyncErr error
	Created bool
}

type RepositoryService interface {
	// Register is idempotent on (provider, owner, name). A newly created
	// repository is synced before returning.
	Register(ctx context.Context, params RegisterRepositoryParams) (*RegisterRepositoryResult, error)
	Get(ctx context.Context, id int64) (*model.Repository, error)
	List(ctx context.Context) ([]model.Repository, error)
}

type repositoryService struct {
	stores          *store.Stores
	sync            SyncService
	defaultInterval time.Duration
}

func NewRepositoryService(stores *store.Stores, sync SyncService, defaultInterval time.Duration) RepositoryService {
	return &repositoryService{
		stores:          stores,
		sync:            sync,
		defaultInterval: defaultInterval,
	}
}

func (s *repositoryService) Register(ctx context.Context, params RegisterRepositoryParams) (*RegisterRepositoryResult, error) {
	ref := model.RepositoryRef{
		Provider: model.Provider(strings.ToLower(string(params.Provider))),
		Owner:    strings.TrimSpace(params.Owner),
		Name:     strings.TrimSpace(params.Name),
	}
	if !ref.Provider.Valid() {
		return nil, fmt.Errorf("%w: provider must be github or gitlab", ErrInvalidInput)
	}
	if ref.Owner == "" || ref.Name == "" {
		return nil, fmt.Errorf("%w: owner and name are required", ErrInvalidInput)
	}
	if params.SyncInterval < 0 {
		return nil, fmt.Errorf("%w: sync interval must not be negative", ErrInvalidInput)
	}

	existing, err := s.stores.Repositories().GetByRef(ctx, ref)
	if err == nil {
		return &RegisterRepositoryResult{Repository: existing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up repository: %w", err)
	}

	interval := params.SyncInterval
	if interval == 0 {
		interval = s.defaultInterval
	}

	repo := &model.Repository{
		ID:           id.New(),
		Provider:     ref.Provider,
		Owner:        ref.Owner,
		Name:         ref.Name,
		SyncInterval: interval,
	}
	if err := s.stores.Repositories().Create(ctx, repo); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent registration.
			existing, getErr := s.stores.Repositories().GetByRef(ctx, ref)
			if getErr != nil {
				return nil, fmt.Errorf("looking up repository: %w", getErr)
			}
			return &RegisterRepositoryResult{Repository: existing}, nil
		}
		return nil, fmt.Errorf("creating repository: %w", err)
	}

	slog.InfoContext(ctx, "repository registered",
		"repository_id", repo.ID,
		"repository", repo.FullName(),
		"provider", repo.Provider)

	result := &RegisterRepositoryResult{Repository: repo, Created: true}
	result.Sync, result.SyncErr = s.sync.SyncRepository(ctx, repo.ID)

	if fresh, err := s.stores.Repositories().GetByID(ctx, repo.ID); err == nil {
		result.Repository = fresh
	}
	return result, nil
}

func (s *repositoryService) Get(ctx context.Context, id int64) (*model.Repository, error) {
	repo, err := s.stores.Repositories().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("getting repository: %w", err)
	}
	return repo, nil
}

func (s *repositoryService) List(ctx context.Context) ([]model.Repository, error) {
	repos, err := s.stores.Repositories().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	return repos, nil
}
