package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/handler"
	"issuemind.app/triage/internal/http/handler/webhook"
	"issuemind.app/triage/internal/http/middleware"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service"
)

type RouterConfig struct {
	AdminAPIKey         string
	GitHubWebhookSecret string
	GitLabWebhookToken  string
	StatusSubscriber    queue.StatusSubscriber
	StreamPingInterval  time.Duration
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	repos := services.Repositories()
	query := services.Query()
	tasks := services.Tasks()

	v1 := router.Group("/api/v1")
	{
		repoHandler := handler.NewRepositoryHandler(repos, services.Sync(), query)
		streamHandler := handler.NewTaskStreamHandler(repos, cfg.StatusSubscriber, cfg.StreamPingInterval)
		RepositoryRouter(v1.Group("/repositories"), repoHandler, streamHandler)

		issueHandler := handler.NewIssueHandler(query, services.Annotations(), tasks)
		IssueRouter(v1.Group("/issues"), issueHandler)

		taskHandler := handler.NewTaskHandler(tasks, query)
		TaskRouter(v1.Group("/tasks"), v1.Group("/admin/tasks", middleware.RequireAdminAPIKey(cfg.AdminAPIKey)), taskHandler)
	}

	github := webhook.NewGitHubWebhookHandler(repos, services.Sync(), cfg.GitHubWebhookSecret)
	gitlab := webhook.NewGitLabWebhookHandler(repos, services.Sync(), cfg.GitLabWebhookToken)
	WebhookRouter(router.Group("/webhooks"), github, gitlab)
}
