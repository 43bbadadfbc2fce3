package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service"
)

var _ = Describe("TaskService", func() {
	var (
		ctx   context.Context
		e     *env
		repo  *model.Repository
		issue *model.Issue
	)

	BeforeEach(func() {
		ctx = context.Background()
		e = newEnv(ctx)
		repo = e.seedRepository(ctx, "acme", "demo")
		issue = e.seedIssue(ctx, repo.ID, 342, "Crash on save", time.Now().UTC())
	})

	It("stores a pending task, queues it and publishes its status", func() {
		events, err := e.status.Subscribe(ctx, repo.ID)
		Expect(err).NotTo(HaveOccurred())

		task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
		Expect(err).NotTo(HaveOccurred())
		Expect(task.Status).To(Equal(model.TaskStatusPending))
		Expect(task.RepositoryID).To(Equal(repo.ID))
		Expect(e.queue.Len()).To(Equal(1))

		var event model.TaskStatusEvent
		Eventually(events).Should(Receive(&event))
		Expect(event.TaskID).To(Equal(task.ID))
		Expect(event.Status).To(Equal(model.TaskStatusPending))

		msgs, err := e.queue.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].TaskID).To(Equal(task.ID))
		Expect(msgs[0].Kind).To(Equal(model.TaskKindSummary))
	})

	It("rejects a second active task of the same kind", func() {
		_, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
		Expect(err).NotTo(HaveOccurred())

		_, err = e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
		Expect(err).To(MatchError(service.ErrDuplicateActiveTask))

		_, err = e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindRelated)
		Expect(err).NotTo(HaveOccurred())
	})

	It("validates the kind and the issue", func() {
		_, err := e.services.Tasks().Enqueue(ctx, issue.ID, "translate")
		Expect(err).To(MatchError(service.ErrInvalidTaskKind))

		_, err = e.services.Tasks().Enqueue(ctx, 4242, model.TaskKindFix)
		Expect(err).To(MatchError(service.ErrIssueNotFound))
	})

	It("keeps the task when the queue is full", func() {
		for i := 0; i < 64; i++ {
			Expect(e.queue.Enqueue(ctx, queue.TaskMessage{Kind: model.TaskKindSummary, TaskID: int64(i + 1)})).To(Succeed())
		}

		task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindExplain)
		Expect(err).NotTo(HaveOccurred())

		stored, err := e.services.Tasks().Get(ctx, task.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(model.TaskStatusPending))
	})

	Describe("Cancel", func() {
		It("fails a pending task as retryable", func() {
			task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindFix)
			Expect(err).NotTo(HaveOccurred())

			cancelled, err := e.services.Tasks().Cancel(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled.Status).To(Equal(model.TaskStatusFailed))
			Expect(cancelled.FailureReason).To(Equal(model.ReasonCancelled))
			Expect(cancelled.Retryable).To(BeTrue())
		})

		It("refuses a running task", func() {
			task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindFix)
			Expect(err).NotTo(HaveOccurred())
			claimed, _, err := e.stores.Tasks().Claim(ctx, task.ID, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())

			_, err = e.services.Tasks().Cancel(ctx, task.ID)
			Expect(err).To(MatchError(service.ErrTaskNotCancellable))

			stored, err := e.services.Tasks().Get(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.TaskStatusRunning))
		})

		It("returns ErrTaskNotFound for unknown tasks", func() {
			_, err := e.services.Tasks().Cancel(ctx, 555)
			Expect(err).To(MatchError(service.ErrTaskNotFound))
		})
	})

	Describe("Retry", func() {
		It("creates a new task linked to the failed one", func() {
			task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
			Expect(err).NotTo(HaveOccurred())
			_, err = e.services.Tasks().Cancel(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())

			retry, err := e.services.Tasks().Retry(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retry.ID).NotTo(Equal(task.ID))
			Expect(retry.RetryOf).To(HaveValue(Equal(task.ID)))
			Expect(retry.Status).To(Equal(model.TaskStatusPending))
		})

		It("refuses tasks that are not failed and retryable", func() {
			task, err := e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
			Expect(err).NotTo(HaveOccurred())
			_, err = e.services.Tasks().Retry(ctx, task.ID)
			Expect(err).To(MatchError(service.ErrTaskNotRetryable))

			claimed, _, err := e.stores.Tasks().Claim(ctx, task.ID, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())
			ok, err := e.stores.Tasks().Fail(ctx, task.ID, "AI backend rejected the request", false, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = e.services.Tasks().Retry(ctx, task.ID)
			Expect(err).To(MatchError(service.ErrTaskNotRetryable))
		})
	})
})
