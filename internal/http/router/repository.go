package router

import (
	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/handler"
)

func RepositoryRouter(rg *gin.RouterGroup, h *handler.RepositoryHandler, stream *handler.TaskStreamHandler) {
	rg.POST("", h.Register)
	rg.GET("", h.List)
	rg.GET("/:repo_id", h.Get)
	rg.POST("/:repo_id/sync", h.Sync)
	rg.GET("/:repo_id/issues", h.ListIssues)
	rg.GET("/:repo_id/tasks/stream", stream.Stream)
}
