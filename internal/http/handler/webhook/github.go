package webhook

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v77/github"

	"issuemind.app/triage/internal/http/dto"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

type GitHubWebhookHandler struct {
	trigger syncTrigger
	secret  string
}

// NewGitHubWebhookHandler verifies X-Hub-Signature-256 against secret. An
// empty secret disables signature checks.
func NewGitHubWebhookHandler(repos service.RepositoryService, sync service.SyncService, secret string) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{
		trigger: syncTrigger{repos: repos, sync: sync},
		secret:  secret,
	}
}

func (h *GitHubWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	repo, ok := h.trigger.resolve(c, model.ProviderGitHub)
	if !ok {
		return
	}

	payload, err := github.ValidatePayload(c.Request, []byte(h.secret))
	if err != nil {
		slog.WarnContext(ctx, "github webhook rejected", "error", err, "repository_id", repo.ID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature", "code": "unauthorized"})
		return
	}

	eventType := github.WebHookType(c.Request)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "code": "invalid_input"})
		return
	}

	var action, fullName string
	switch e := event.(type) {
	case *github.IssuesEvent:
		action = e.GetAction()
		fullName = e.GetRepo().GetFullName()
		slog.InfoContext(ctx, "github issue webhook received",
			"repository_id", repo.ID,
			"action", action,
			"issue_number", e.GetIssue().GetNumber(),
		)
	case *github.IssueCommentEvent:
		action = e.GetAction()
		fullName = e.GetRepo().GetFullName()
		slog.InfoContext(ctx, "github issue comment webhook received",
			"repository_id", repo.ID,
			"action", action,
			"issue_number", e.GetIssue().GetNumber(),
		)
	default:
		c.JSON(http.StatusOK, dto.WebhookResponse{Event: eventType})
		return
	}

	if !matches(repo, fullName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload repository does not match", "code": "invalid_input"})
		return
	}

	h.trigger.fire(ctx, repo, "github."+eventType)
	c.JSON(http.StatusAccepted, dto.WebhookResponse{Event: eventType, Action: action, Accepted: true})
}
