package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/dto"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

type IssueHandler struct {
	query       service.QueryService
	annotations service.AnnotationService
	tasks       service.TaskService
}

func NewIssueHandler(query service.QueryService, annotations service.AnnotationService, tasks service.TaskService) *IssueHandler {
	return &IssueHandler{
		query:       query,
		annotations: annotations,
		tasks:       tasks,
	}
}

func (h *IssueHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "issue_id")
	if !ok {
		return
	}

	detail, err := h.query.GetIssueDetail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get issue")
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *IssueHandler) Annotation(c *gin.Context) {
	id, ok := parseIDParam(c, "issue_id")
	if !ok {
		return
	}

	ann, err := h.annotations.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get annotation")
		return
	}
	c.JSON(http.StatusOK, ann)
}

func (h *IssueHandler) AnnotationHistory(c *gin.Context) {
	id, ok := parseIDParam(c, "issue_id")
	if !ok {
		return
	}

	versions, err := h.annotations.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get annotation history")
		return
	}
	if versions == nil {
		versions = []model.Annotation{}
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// EnqueueTask answers 202 once the task is stored. The AI call runs later.
func (h *IssueHandler) EnqueueTask(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseIDParam(c, "issue_id")
	if !ok {
		return
	}

	var req dto.EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: kind is required")
		return
	}

	task, err := h.tasks.Enqueue(ctx, id, model.TaskKind(strings.ToLower(req.Kind)))
	if err != nil {
		respondError(c, err, "enqueue task")
		return
	}

	slog.InfoContext(ctx, "task enqueued via api",
		"task_id", task.ID,
		"issue_id", task.IssueID,
		"kind", task.Kind,
	)
	c.JSON(http.StatusAccepted, task)
}
