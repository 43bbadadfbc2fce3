package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/http/dto"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/store"
)

type TaskHandler struct {
	tasks service.TaskService
	query service.QueryService
}

func NewTaskHandler(tasks service.TaskService, query service.QueryService) *TaskHandler {
	return &TaskHandler{
		tasks: tasks,
		query: query,
	}
}

func (h *TaskHandler) List(c *gin.Context) {
	var filter store.TaskFilter
	for _, s := range queryList(c, "status") {
		filter.Statuses = append(filter.Statuses, model.TaskStatus(strings.ToLower(s)))
	}
	for _, k := range queryList(c, "kind") {
		filter.Kinds = append(filter.Kinds, model.TaskKind(strings.ToLower(k)))
	}

	var ok bool
	if filter.RepositoryID, ok = parseOptionalID(c, "repo_id"); !ok {
		return
	}
	if filter.IssueID, ok = parseOptionalID(c, "issue_id"); !ok {
		return
	}
	if filter.Limit, ok = parseOptionalInt(c, "limit"); !ok {
		return
	}

	tasks, err := h.query.ListTasks(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	c.JSON(http.StatusOK, dto.ListTasksResponse{Tasks: tasks})
}

func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "task_id")
	if !ok {
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c, "task_id")
	if !ok {
		return
	}

	task, err := h.tasks.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "cancel task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Retry(c *gin.Context) {
	id, ok := parseIDParam(c, "task_id")
	if !ok {
		return
	}

	task, err := h.tasks.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "retry task")
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *TaskHandler) ClearCompleted(c *gin.Context) {
	repoID, ok := parseOptionalID(c, "repo_id")
	if !ok {
		return
	}

	deleted, err := h.query.ClearCompleted(c.Request.Context(), repoID)
	if err != nil {
		respondError(c, err, "clear completed tasks")
		return
	}
	c.JSON(http.StatusOK, dto.DeletedResponse{Deleted: deleted})
}

// Purge is admin only.
func (h *TaskHandler) Purge(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.PurgeTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: older_than is required")
		return
	}
	olderThan, err := time.ParseDuration(req.OlderThan)
	if err != nil {
		badRequest(c, "invalid older_than")
		return
	}

	deleted, err := h.query.PurgeTerminal(ctx, olderThan)
	if err != nil {
		respondError(c, err, "purge tasks")
		return
	}

	slog.InfoContext(ctx, "terminal tasks purged via admin api",
		"older_than", olderThan.String(),
		"deleted", deleted,
	)
	c.JSON(http.StatusOK, dto.DeletedResponse{Deleted: deleted})
}
