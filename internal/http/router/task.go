package router

import (
	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/handler"
)

// TaskRouter sets up task routes. adminRg must already carry the admin
// API key middleware.
func TaskRouter(rg *gin.RouterGroup, adminRg *gin.RouterGroup, h *handler.TaskHandler) {
	rg.GET("", h.List)
	rg.POST("/clear-completed", h.ClearCompleted)
	rg.GET("/:task_id", h.Get)
	rg.POST("/:task_id/cancel", h.Cancel)
	rg.POST("/:task_id/retry", h.Retry)

	adminRg.POST("/purge", h.Purge)
}
