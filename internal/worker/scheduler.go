package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/store"
)

// Scheduler syncs every repository whose sync interval has elapsed.
type Scheduler struct {
	repos    store.RepositoryStore
	sync     service.SyncService
	interval time.Duration
	now      func() time.Time

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(repos store.RepositoryStore, sync service.SyncService, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		repos:     repos,
		sync:      sync,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called, then waits for the syncs
// it started.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "issuemind.worker.scheduler"})

	defer close(s.stoppedCh)
	defer s.wg.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sync scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "sync scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// Tick starts a sync for each due repository and returns how many it started.
// Syncs of one repository coalesce, so overlapping ticks are harmless.
func (s *Scheduler) Tick(ctx context.Context) int {
	repos, err := s.repos.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing repositories for sync failed", "error", err)
		return 0
	}

	now := s.now()
	started := 0
	for _, repo := range repos {
		if !repo.SyncDue(now) {
			continue
		}
		started++

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.sync.SyncRepository(ctx, repo.ID); err != nil {
				slog.WarnContext(ctx, "scheduled sync failed",
					"repository_id", repo.ID,
					"repository", repo.FullName(),
					"error", err)
			}
		}()
	}
	return started
}

// Wait blocks until the syncs started so far have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
