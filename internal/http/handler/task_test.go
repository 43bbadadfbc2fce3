package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/http/handler"
	"issuemind.app/triage/internal/http/middleware"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/store"
)

var _ = Describe("TaskHandler", func() {
	const adminKey = "test-admin-key"

	var (
		router *gin.Engine
		tasks  *mockTaskService
		query  *mockQueryService
	)

	BeforeEach(func() {
		router = gin.New()
		tasks = &mockTaskService{}
		query = &mockQueryService{}
		h := handler.NewTaskHandler(tasks, query)

		rg := router.Group("/tasks")
		rg.GET("", h.List)
		rg.POST("/clear-completed", h.ClearCompleted)
		rg.GET("/:task_id", h.Get)
		rg.POST("/:task_id/cancel", h.Cancel)
		rg.POST("/:task_id/retry", h.Retry)

		admin := router.Group("/admin/tasks", middleware.RequireAdminAPIKey(adminKey))
		admin.POST("/purge", h.Purge)
	})

	do := func(method, path, body string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("List", func() {
		It("builds the store filter from query parameters", func() {
			var got store.TaskFilter
			query.listTasksFn = func(_ context.Context, filter store.TaskFilter) ([]model.Task, error) {
				got = filter
				return []model.Task{{ID: 1, Status: model.TaskStatusFailed}}, nil
			}

			w := do(http.MethodGet, "/tasks?status=failed,pending&kind=fix&repo_id=7&issue_id=11&limit=5", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.Statuses).To(Equal([]model.TaskStatus{model.TaskStatusFailed, model.TaskStatusPending}))
			Expect(got.Kinds).To(Equal([]model.TaskKind{model.TaskKindFix}))
			Expect(*got.RepositoryID).To(Equal(int64(7)))
			Expect(*got.IssueID).To(Equal(int64(11)))
			Expect(got.Limit).To(Equal(5))
		})

		It("returns an empty array when nothing matches", func() {
			w := do(http.MethodGet, "/tasks", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"tasks":[]`))
		})

		It("maps an invalid status to 400", func() {
			query.listTasksFn = func(context.Context, store.TaskFilter) ([]model.Task, error) {
				return nil, service.ErrInvalidInput
			}

			w := do(http.MethodGet, "/tasks?status=sleeping", "")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed repo_id", func() {
			w := do(http.MethodGet, "/tasks?repo_id=x", "")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Get", func() {
		It("returns the task with its result", func() {
			tasks.getFn = func(_ context.Context, id int64) (*model.Task, error) {
				return &model.Task{ID: id, Status: model.TaskStatusCompleted, Result: json.RawMessage(`{"summary":"ok"}`)}, nil
			}

			w := do(http.MethodGet, "/tasks/5", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"result":{"summary":"ok"}`))
		})

		It("returns 404 for an unknown task", func() {
			w := do(http.MethodGet, "/tasks/5", "")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Cancel", func() {
		It("returns the failed task", func() {
			tasks.cancelFn = func(_ context.Context, id int64) (*model.Task, error) {
				return &model.Task{ID: id, Status: model.TaskStatusFailed, FailureReason: model.ReasonCancelled}, nil
			}

			w := do(http.MethodPost, "/tasks/5/cancel", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(model.ReasonCancelled))
		})

		It("returns 409 when the task is not pending", func() {
			tasks.cancelFn = func(context.Context, int64) (*model.Task, error) {
				return nil, service.ErrTaskNotCancellable
			}

			w := do(http.MethodPost, "/tasks/5/cancel", "")
			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("Retry", func() {
		It("returns 202 with the new task", func() {
			tasks.retryFn = func(_ context.Context, id int64) (*model.Task, error) {
				return &model.Task{ID: 6, RetryOf: &id, Status: model.TaskStatusPending}, nil
			}

			w := do(http.MethodPost, "/tasks/5/retry", "")

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(w.Body.String()).To(ContainSubstring(`"retry_of":5`))
		})

		It("returns 409 when the task cannot be retried", func() {
			tasks.retryFn = func(context.Context, int64) (*model.Task, error) {
				return nil, service.ErrTaskNotRetryable
			}

			w := do(http.MethodPost, "/tasks/5/retry", "")
			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("ClearCompleted", func() {
		It("scopes the clear to a repository when given", func() {
			var got *int64
			query.clearFn = func(_ context.Context, repoID *int64) (int64, error) {
				got = repoID
				return 4, nil
			}

			w := do(http.MethodPost, "/tasks/clear-completed?repo_id=7", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(*got).To(Equal(int64(7)))
			Expect(w.Body.String()).To(ContainSubstring(`"deleted":4`))
		})

		It("clears every repository without repo_id", func() {
			var got *int64
			query.clearFn = func(_ context.Context, repoID *int64) (int64, error) {
				got = repoID
				return 0, nil
			}

			w := do(http.MethodPost, "/tasks/clear-completed", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got).To(BeNil())
		})
	})

	Describe("Purge", func() {
		It("requires the admin API key", func() {
			w := do(http.MethodPost, "/admin/tasks/purge", `{"older_than":"720h"}`)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the key as a bearer token", func() {
			var got time.Duration
			query.purgeFn = func(_ context.Context, olderThan time.Duration) (int64, error) {
				got = olderThan
				return 9, nil
			}

			w := do(http.MethodPost, "/admin/tasks/purge", `{"older_than":"720h"}`, "Authorization", "Bearer "+adminKey)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got).To(Equal(720 * time.Hour))
			Expect(w.Body.String()).To(ContainSubstring(`"deleted":9`))
		})

		It("rejects an unparsable age", func() {
			w := do(http.MethodPost, "/admin/tasks/purge", `{"older_than":"a while"}`, "X-Admin-API-Key", adminKey)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
