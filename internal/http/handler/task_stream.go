package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service"
)

const defaultPingInterval = 25 * time.Second

// TaskStreamHandler pushes task status transitions of one repository as
// server-sent events.
type TaskStreamHandler struct {
	repos        service.RepositoryService
	status       queue.StatusSubscriber
	pingInterval time.Duration
}

func NewTaskStreamHandler(repos service.RepositoryService, status queue.StatusSubscriber, pingInterval time.Duration) *TaskStreamHandler {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &TaskStreamHandler{
		repos:        repos,
		status:       status,
		pingInterval: pingInterval,
	}
}

func (h *TaskStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status stream not configured", "code": "unavailable"})
		return
	}

	repoID, ok := parseIDParam(c, "repo_id")
	if !ok {
		return
	}
	if _, err := h.repos.Get(ctx, repoID); err != nil {
		respondError(c, err, "get repository")
		return
	}

	events, err := h.status.Subscribe(ctx, repoID)
	if err != nil {
		respondError(c, err, "subscribe to task status")
		return
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported", "code": "internal_error"})
		return
	}

	c.Status(http.StatusOK)
	sseWrite(c.Writer, "ready", gin.H{"repository_id": repoID})
	flusher.Flush()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			sseWrite(c.Writer, "status", event)
			flusher.Flush()
		case now := <-ticker.C:
			sseWrite(c.Writer, "ping", now.UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
