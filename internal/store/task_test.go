package store_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
)

var _ = Describe("TaskStore", func() {
	var (
		ctx    context.Context
		stores *store.Stores
		repo   *model.Repository
		issue  *model.Issue
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = store.NewStores(openTestDB(ctx).Queries())
		repo = seedRepository(ctx, stores, "acme", "demo")
		issue = seedIssue(ctx, stores, repo.ID, 342, "Crash on save")
	})

	newTask := func(kind model.TaskKind) *model.Task {
		return &model.Task{
			ID:           id.New(),
			RepositoryID: repo.ID,
			IssueID:      issue.ID,
			Kind:         kind,
		}
	}

	It("allows only one active task per issue and kind", func() {
		first := newTask(model.TaskKindSummary)
		Expect(stores.Tasks().Create(ctx, first)).To(Succeed())
		Expect(first.Status).To(Equal(model.TaskStatusPending))

		Expect(stores.Tasks().Create(ctx, newTask(model.TaskKindSummary))).To(MatchError(store.ErrConflict))
		Expect(stores.Tasks().Create(ctx, newTask(model.TaskKindRelated))).To(Succeed())

		claimed, _, err := stores.Tasks().Claim(ctx, first.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeTrue())
		Expect(stores.Tasks().Create(ctx, newTask(model.TaskKindSummary))).To(MatchError(store.ErrConflict))

		ok, err := stores.Tasks().Complete(ctx, first.ID, json.RawMessage(`{"summary":"x"}`), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(stores.Tasks().Create(ctx, newTask(model.TaskKindSummary))).To(Succeed())
	})

	It("claims a pending task exactly once", func() {
		task := newTask(model.TaskKindExplain)
		Expect(stores.Tasks().Create(ctx, task)).To(Succeed())

		claimed, got, err := stores.Tasks().Claim(ctx, task.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeTrue())
		Expect(got.Status).To(Equal(model.TaskStatusRunning))
		Expect(got.StartedAt).NotTo(BeNil())

		claimed, got, err = stores.Tasks().Claim(ctx, task.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeFalse())
		Expect(got).To(BeNil())
	})

	It("keeps terminal tasks immutable", func() {
		task := newTask(model.TaskKindFix)
		Expect(stores.Tasks().Create(ctx, task)).To(Succeed())
		_, _, err := stores.Tasks().Claim(ctx, task.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())

		ok, err := stores.Tasks().Fail(ctx, task.ID, "backend unavailable", true, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = stores.Tasks().Complete(ctx, task.ID, nil, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		got, err := stores.Tasks().GetByID(ctx, task.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusFailed))
		Expect(got.FailureReason).To(Equal("backend unavailable"))
		Expect(got.Retryable).To(BeTrue())
	})

	It("cancels only pending tasks", func() {
		pending := newTask(model.TaskKindSummary)
		running := newTask(model.TaskKindRelated)
		Expect(stores.Tasks().Create(ctx, pending)).To(Succeed())
		Expect(stores.Tasks().Create(ctx, running)).To(Succeed())
		_, _, err := stores.Tasks().Claim(ctx, running.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())

		ok, err := stores.Tasks().CancelPending(ctx, pending.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = stores.Tasks().CancelPending(ctx, running.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		got, err := stores.Tasks().GetByID(ctx, pending.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(model.TaskStatusFailed))
		Expect(got.FailureReason).To(Equal(model.ReasonCancelled))
	})

	It("fails every running task on recovery and lists pending in creation order", func() {
		base := time.Now().Add(-time.Hour)
		var pendingIDs []int64
		for i, kind := range []model.TaskKind{model.TaskKindSummary, model.TaskKindFix, model.TaskKindExplain} {
			t := newTask(kind)
			t.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			Expect(stores.Tasks().Create(ctx, t)).To(Succeed())
			pendingIDs = append(pendingIDs, t.ID)
		}
		running := newTask(model.TaskKindRelated)
		Expect(stores.Tasks().Create(ctx, running)).To(Succeed())
		_, _, err := stores.Tasks().Claim(ctx, running.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())

		failed, err := stores.Tasks().FailAllRunning(ctx, model.ReasonInterrupted, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].ID).To(Equal(running.ID))
		Expect(failed[0].Retryable).To(BeTrue())

		pending, err := stores.Tasks().ListPending(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(3))
		for i, t := range pending {
			Expect(t.ID).To(Equal(pendingIDs[i]))
		}
	})

	It("filters, clears completed, and purges terminal tasks", func() {
		done := newTask(model.TaskKindSummary)
		failed := newTask(model.TaskKindFix)
		pending := newTask(model.TaskKindExplain)
		for _, t := range []*model.Task{done, failed, pending} {
			Expect(stores.Tasks().Create(ctx, t)).To(Succeed())
		}
		now := time.Now()
		_, _, err := stores.Tasks().Claim(ctx, done.ID, now)
		Expect(err).NotTo(HaveOccurred())
		_, err = stores.Tasks().Complete(ctx, done.ID, json.RawMessage(`{}`), now)
		Expect(err).NotTo(HaveOccurred())
		_, _, err = stores.Tasks().Claim(ctx, failed.ID, now)
		Expect(err).NotTo(HaveOccurred())
		_, err = stores.Tasks().Fail(ctx, failed.ID, "permanent", false, now)
		Expect(err).NotTo(HaveOccurred())

		list, err := stores.Tasks().List(ctx, store.TaskFilter{
			Statuses: []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusFailed},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))

		list, err = stores.Tasks().List(ctx, store.TaskFilter{Kinds: []model.TaskKind{model.TaskKindExplain}, IssueID: &issue.ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].ID).To(Equal(pending.ID))

		other := int64(1)
		n, err := stores.Tasks().DeleteCompleted(ctx, &other)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		n, err = stores.Tasks().DeleteCompleted(ctx, &repo.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		n, err = stores.Tasks().DeleteTerminalBefore(ctx, now.Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		remaining, err := stores.Tasks().List(ctx, store.TaskFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(remaining).To(HaveLen(1))
		Expect(remaining[0].Status).To(Equal(model.TaskStatusPending))
	})
})
