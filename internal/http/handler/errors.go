package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/service/issue_tracker"
)

// errorMapping turns a domain error into a response. An empty message means
// the error text itself is safe to show: it only carries input validation
// detail written by the service layer.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{service.ErrRepositoryNotFound, http.StatusNotFound, "repository_not_found", "repository not found"},
	{service.ErrIssueNotFound, http.StatusNotFound, "issue_not_found", "issue not found"},
	{service.ErrTaskNotFound, http.StatusNotFound, "task_not_found", "task not found"},
	{service.ErrAnnotationNotFound, http.StatusNotFound, "annotation_not_found", "issue has no annotation yet"},
	{issue_tracker.ErrProviderNotFound, http.StatusNotFound, "provider_repository_not_found", "repository not found on provider"},
	{service.ErrDuplicateActiveTask, http.StatusConflict, "duplicate_active_task", "a task of this kind is already pending or running for the issue"},
	{service.ErrTaskNotCancellable, http.StatusConflict, "task_not_cancellable", "only pending tasks can be cancelled"},
	{service.ErrTaskNotRetryable, http.StatusConflict, "task_not_retryable", "only failed, retryable tasks can be retried"},
	{service.ErrInvalidTaskKind, http.StatusBadRequest, "invalid_task_kind", ""},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input", ""},
	{issue_tracker.ErrUnsupportedProvider, http.StatusBadRequest, "unsupported_provider", ""},
	{issue_tracker.ErrProviderAuth, http.StatusBadGateway, "provider_auth_error", "provider rejected the configured credentials"},
	{issue_tracker.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable", "provider unavailable, try again later"},
}

// respondError maps domain errors to status codes. Anything unmapped is
// logged and reported as a generic 500.
func respondError(c *gin.Context, err error, action string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.message != "" {
				slog.WarnContext(c.Request.Context(), "failed to "+action, "error", err, "code", m.code)
			}
			c.JSON(m.status, gin.H{"error": m.publicMessage(err), "code": m.code})
			return
		}
	}

	slog.ErrorContext(c.Request.Context(), "failed to "+action, "error", err)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action, "code": "internal_error"})
}

func (m errorMapping) publicMessage(err error) string {
	if m.message != "" {
		return m.message
	}
	return err.Error()
}

// publicErrorMessage is the text shown for err outside an error response.
func publicErrorMessage(err error) string {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.publicMessage(err)
		}
	}
	return "internal error"
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_input"})
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseOptionalID(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

func parseOptionalInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return n, true
}
