package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

// syncTrigger turns a webhook into a background sync of the repository.
// The provider remains the source of truth, so payload contents are only
// used to decide whether a sync is worth running.
type syncTrigger struct {
	repos service.RepositoryService
	sync  service.SyncService
}

func (t syncTrigger) resolve(c *gin.Context, provider model.Provider) (*model.Repository, bool) {
	repoID, err := strconv.ParseInt(c.Param("repo_id"), 10, 64)
	if err != nil || repoID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repository id", "code": "invalid_input"})
		return nil, false
	}

	repo, err := t.repos.Get(c.Request.Context(), repoID)
	if err != nil {
		if errors.Is(err, service.ErrRepositoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found", "code": "repository_not_found"})
			return nil, false
		}
		slog.ErrorContext(c.Request.Context(), "failed to load repository for webhook", "error", err, "repository_id", repoID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook", "code": "internal_error"})
		return nil, false
	}
	if repo.Provider != provider {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found", "code": "repository_not_found"})
		return nil, false
	}
	return repo, true
}

// matches rejects payloads addressed to a different repository than the URL names.
func matches(repo *model.Repository, fullName string) bool {
	return fullName == "" || strings.EqualFold(fullName, repo.FullName())
}

func (t syncTrigger) fire(ctx context.Context, repo *model.Repository, event string) {
	ctx = logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		RepositoryID: logger.Ptr(repo.ID),
		Component:    "issuemind.http.webhook",
	})

	go func() {
		result, err := t.sync.SyncRepository(ctx, repo.ID)
		if err != nil {
			slog.WarnContext(ctx, "webhook triggered sync failed", "error", err, "event", event)
			return
		}
		slog.InfoContext(ctx, "webhook triggered sync finished",
			"event", event,
			"created", result.Created,
			"updated", result.Updated,
			"closed", result.Closed,
			"coalesced", result.Coalesced,
		)
	}()
}
