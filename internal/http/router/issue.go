package router

import (
	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/handler"
)

func IssueRouter(rg *gin.RouterGroup, h *handler.IssueHandler) {
	rg.GET("/:issue_id", h.Get)
	rg.GET("/:issue_id/annotation", h.Annotation)
	rg.GET("/:issue_id/annotation/history", h.AnnotationHistory)
	rg.POST("/:issue_id/tasks", h.EnqueueTask)
}
