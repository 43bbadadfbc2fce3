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
)

type RepositoryHandler struct {
	repos service.RepositoryService
	sync  service.SyncService
	query service.QueryService
}

func NewRepositoryHandler(repos service.RepositoryService, sync service.SyncService, query service.QueryService) *RepositoryHandler {
	return &RepositoryHandler{
		repos: repos,
		sync:  sync,
		query: query,
	}
}

// Register adds a repository and runs its first sync. A failed first sync
// still returns the registration with sync_error set.
func (h *RepositoryHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RegisterRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: provider, owner and name are required")
		return
	}

	var interval time.Duration
	if req.SyncInterval != "" {
		d, err := time.ParseDuration(req.SyncInterval)
		if err != nil || d < 0 {
			badRequest(c, "invalid sync_interval")
			return
		}
		interval = d
	}

	result, err := h.repos.Register(ctx, service.RegisterRepositoryParams{
		Provider:     model.Provider(req.Provider),
		Owner:        req.Owner,
		Name:         req.Name,
		SyncInterval: interval,
	})
	if err != nil {
		respondError(c, err, "register repository")
		return
	}

	resp := dto.RegisterRepositoryResponse{
		Repository: result.Repository,
		Sync:       result.Sync,
		Created:    result.Created,
	}
	if result.SyncErr != nil {
		resp.SyncError = publicErrorMessage(result.SyncErr)
		slog.WarnContext(ctx, "first sync after registration failed", "error", result.SyncErr)
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		slog.InfoContext(ctx, "repository registered",
			"repository_id", result.Repository.ID,
			"repository", result.Repository.FullName(),
			"provider", result.Repository.Provider,
		)
	}
	c.JSON(status, resp)
}

func (h *RepositoryHandler) List(c *gin.Context) {
	repos, err := h.repos.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "list repositories")
		return
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	c.JSON(http.StatusOK, dto.ListRepositoriesResponse{Repositories: repos})
}

func (h *RepositoryHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "repo_id")
	if !ok {
		return
	}

	repo, err := h.repos.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get repository")
		return
	}
	c.JSON(http.StatusOK, repo)
}

// Sync runs a sync now. A sync already in flight for the repository is
// joined rather than started again.
func (h *RepositoryHandler) Sync(c *gin.Context) {
	id, ok := parseIDParam(c, "repo_id")
	if !ok {
		return
	}

	result, err := h.sync.SyncRepository(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "sync repository")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RepositoryHandler) ListIssues(c *gin.Context) {
	id, ok := parseIDParam(c, "repo_id")
	if !ok {
		return
	}

	var filter service.IssueFilter
	for _, s := range queryList(c, "state") {
		state := model.IssueState(strings.ToLower(s))
		if !state.Valid() {
			badRequest(c, "invalid state "+s)
			return
		}
		filter.States = append(filter.States, state)
	}
	for _, p := range queryList(c, "priority") {
		if strings.EqualFold(p, "none") {
			filter.Priorities = append(filter.Priorities, model.PriorityNone)
			continue
		}
		priority, valid := model.ParsePriority(p)
		if !valid {
			badRequest(c, "invalid priority "+p)
			return
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	filter.Labels = queryList(c, "label")
	filter.Query = c.Query("q")
	filter.Assignee = c.Query("assignee")

	order := service.IssueSort{Field: service.IssueSortField(c.Query("sort"))}
	switch strings.ToLower(c.Query("order")) {
	case "", "desc":
	case "asc":
		order.Ascending = true
	default:
		badRequest(c, "order must be asc or desc")
		return
	}

	page, ok := parseOptionalInt(c, "page")
	if !ok {
		return
	}
	perPage, ok := parseOptionalInt(c, "per_page")
	if !ok {
		return
	}

	result, err := h.query.ListIssues(c.Request.Context(), id, filter, order, service.Page{Page: page, PerPage: perPage})
	if err != nil {
		respondError(c, err, "list issues")
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryList accepts both repeated parameters and comma separated values.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
