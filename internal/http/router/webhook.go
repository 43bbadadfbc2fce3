package router

import (
	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/handler/webhook"
)

func WebhookRouter(rg *gin.RouterGroup, github *webhook.GitHubWebhookHandler, gitlab *webhook.GitLabWebhookHandler) {
	rg.POST("/github/:repo_id", github.HandleEvent)
	rg.POST("/gitlab/:repo_id", gitlab.HandleEvent)
}
