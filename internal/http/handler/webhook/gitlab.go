package webhook

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"issuemind.app/triage/internal/http/dto"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

type GitLabWebhookHandler struct {
	trigger syncTrigger
	token   string
}

// NewGitLabWebhookHandler compares X-Gitlab-Token with token. An empty
// token disables the check.
func NewGitLabWebhookHandler(repos service.RepositoryService, sync service.SyncService, token string) *GitLabWebhookHandler {
	return &GitLabWebhookHandler{
		trigger: syncTrigger{repos: repos, sync: sync},
		token:   token,
	}
}

func (h *GitLabWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	repo, ok := h.trigger.resolve(c, model.ProviderGitLab)
	if !ok {
		return
	}

	if h.token != "" {
		secretHeader := c.GetHeader("X-Gitlab-Token")
		if secretHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token", "code": "unauthorized"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(secretHeader), []byte(h.token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token", "code": "unauthorized"})
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "code": "invalid_input"})
		return
	}

	eventType := gitlab.HookEventType(c.Request)
	event, err := gitlab.ParseWebhook(eventType, body)
	if err != nil {
		// Unknown event types are acknowledged so GitLab does not disable the hook.
		c.JSON(http.StatusOK, dto.WebhookResponse{Event: string(eventType)})
		return
	}

	var action, fullName string
	switch e := event.(type) {
	case *gitlab.IssueEvent:
		action = e.ObjectAttributes.Action
		fullName = e.Project.PathWithNamespace
		slog.InfoContext(ctx, "gitlab issue webhook received",
			"repository_id", repo.ID,
			"action", action,
			"issue_iid", e.ObjectAttributes.IID,
		)
	case *gitlab.IssueCommentEvent:
		action = "comment"
		fullName = e.Project.PathWithNamespace
		slog.InfoContext(ctx, "gitlab note webhook received",
			"repository_id", repo.ID,
			"issue_iid", e.Issue.IID,
		)
	default:
		c.JSON(http.StatusOK, dto.WebhookResponse{Event: string(eventType)})
		return
	}

	if !matches(repo, fullName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload repository does not match", "code": "invalid_input"})
		return
	}

	h.trigger.fire(ctx, repo, "gitlab."+string(eventType))
	c.JSON(http.StatusAccepted, dto.WebhookResponse{Event: string(eventType), Action: action, Accepted: true})
}
