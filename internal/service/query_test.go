package service_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
	"issuemind.app/triage/internal/store"
)

var _ = Describe("QueryService", func() {
	var (
		ctx  context.Context
		e    *env
		repo *model.Repository
		now  time.Time
	)

	annotate := func(issue *model.Issue, priority model.Priority) {
		_, err := e.services.Annotations().Apply(ctx, service.ApplyAnnotationParams{
			Patch: model.AnnotationPatch{
				Kind:    model.TaskKindSummary,
				Summary: &model.SummaryGroup{Summary: "about " + issue.Title, Priority: priority},
			},
			IssueID: issue.ID,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	numbers := func(page *service.IssuePage) []int64 {
		out := make([]int64, 0, len(page.Items))
		for _, v := range page.Items {
			out = append(out, v.Number)
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		e = newEnv(ctx)
		repo = e.seedRepository(ctx, "acme", "demo")
		now = time.Now().UTC().Truncate(time.Millisecond)

		low := e.seedIssue(ctx, repo.ID, 1, "Typo in README", now.Add(-3*time.Hour), "docs")
		urgent := e.seedIssue(ctx, repo.ID, 2, "Data loss on sync", now.Add(-2*time.Hour), "bug", "sync")
		e.seedIssue(ctx, repo.ID, 3, "Add dark mode", now.Add(-time.Hour), "enhancement")
		high := e.seedIssue(ctx, repo.ID, 4, "Crash on save", now, "bug")

		annotate(low, model.PriorityLow)
		annotate(urgent, model.PriorityUrgent)
		annotate(high, model.PriorityHigh)
	})

	Describe("ListIssues", func() {
		It("sorts by update time, newest first, by default", func() {
			page, err := e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{4, 3, 2, 1}))
			Expect(page.Total).To(Equal(4))
			Expect(page.PerPage).To(Equal(service.DefaultPerPage))
			Expect(page.HasMore).To(BeFalse())
		})

		It("sorts by priority with unannotated issues last", func() {
			page, err := e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{Field: service.SortPriority}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{2, 4, 1, 3}))
			Expect(page.Items[3].Priority).To(Equal(model.PriorityNone))
			Expect(page.Items[3].Tags).To(BeEmpty())
		})

		It("returns the same set whatever the sort", func() {
			filter := service.IssueFilter{Labels: []string{"bug"}}
			var sets [][]int64
			for _, order := range []service.IssueSort{
				{Field: service.SortUpdated},
				{Field: service.SortCreated, Ascending: true},
				{Field: service.SortPriority},
			} {
				page, err := e.services.Query().ListIssues(ctx, repo.ID, filter, order, service.Page{})
				Expect(err).NotTo(HaveOccurred())
				sets = append(sets, numbers(page))
			}
			Expect(sets[0]).To(ConsistOf(int64(2), int64(4)))
			Expect(sets[1]).To(ConsistOf(sets[0]))
			Expect(sets[2]).To(ConsistOf(sets[0]))
			Expect(sets[1]).To(Equal([]int64{2, 4}))
		})

		It("filters by priority, labels, query and state", func() {
			page, err := e.services.Query().ListIssues(ctx, repo.ID,
				service.IssueFilter{Priorities: []model.Priority{model.PriorityHigh}}, service.IssueSort{}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{4}))

			page, err = e.services.Query().ListIssues(ctx, repo.ID,
				service.IssueFilter{Labels: []string{"BUG", "sync"}}, service.IssueSort{}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{2}))

			page, err = e.services.Query().ListIssues(ctx, repo.ID,
				service.IssueFilter{Query: "dark"}, service.IssueSort{}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{3}))

			page, err = e.services.Query().ListIssues(ctx, repo.ID,
				service.IssueFilter{States: []model.IssueState{model.IssueStateClosed}}, service.IssueSort{}, service.Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(BeEmpty())
			Expect(page.Total).To(BeZero())
		})

		It("pages through results", func() {
			page, err := e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{}, service.Page{Page: 2, PerPage: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(numbers(page)).To(Equal([]int64{1}))
			Expect(page.HasMore).To(BeFalse())

			page, err = e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{}, service.Page{Page: 1, PerPage: 1000})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.PerPage).To(Equal(service.MaxPerPage))

			page, err = e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{}, service.Page{Page: 9, PerPage: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(BeEmpty())
			Expect(page.Total).To(Equal(4))
		})

		It("rejects unknown repositories and sorts", func() {
			_, err := e.services.Query().ListIssues(ctx, 9999, service.IssueFilter{}, service.IssueSort{}, service.Page{})
			Expect(err).To(MatchError(service.ErrRepositoryNotFound))

			_, err = e.services.Query().ListIssues(ctx, repo.ID, service.IssueFilter{}, service.IssueSort{Field: "stars"}, service.Page{})
			Expect(err).To(MatchError(service.ErrInvalidInput))
		})
	})

	It("assembles an issue detail", func() {
		issue, err := e.stores.Issues().GetByNumber(ctx, repo.ID, 4)
		Expect(err).NotTo(HaveOccurred())
		_, err = e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindFix)
		Expect(err).NotTo(HaveOccurred())

		detail, err := e.services.Query().GetIssueDetail(ctx, issue.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(detail.Issue.Number).To(Equal(int64(4)))
		Expect(detail.Repository.ID).To(Equal(repo.ID))
		Expect(detail.Annotation).NotTo(BeNil())
		Expect(detail.Annotation.Priority()).To(Equal(model.PriorityHigh))
		Expect(detail.RecentTasks).To(HaveLen(1))

		_, err = e.services.Query().GetIssueDetail(ctx, 31337)
		Expect(err).To(MatchError(service.ErrIssueNotFound))
	})

	Describe("task housekeeping", func() {
		var completed, pending *model.Task

		BeforeEach(func() {
			issue, err := e.stores.Issues().GetByNumber(ctx, repo.ID, 1)
			Expect(err).NotTo(HaveOccurred())

			completed, err = e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindSummary)
			Expect(err).NotTo(HaveOccurred())
			claimed, _, err := e.stores.Tasks().Claim(ctx, completed.ID, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())
			ok, err := e.stores.Tasks().Complete(ctx, completed.ID, json.RawMessage(`{}`), now.Add(-48*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			pending, err = e.services.Tasks().Enqueue(ctx, issue.ID, model.TaskKindRelated)
			Expect(err).NotTo(HaveOccurred())
		})

		It("clears completed tasks and keeps active ones", func() {
			n, err := e.services.Query().ClearCompleted(ctx, &repo.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			tasks, err := e.services.Query().ListTasks(ctx, store.TaskFilter{RepositoryID: &repo.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].ID).To(Equal(pending.ID))
		})

		It("purges terminal tasks older than the cutoff", func() {
			n, err := e.services.Query().PurgeTerminal(ctx, 72*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			n, err = e.services.Query().PurgeTerminal(ctx, 24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = e.services.Tasks().Get(ctx, completed.ID)
			Expect(err).To(MatchError(service.ErrTaskNotFound))
		})

		It("validates task filters", func() {
			_, err := e.services.Query().ListTasks(ctx, store.TaskFilter{Statuses: []model.TaskStatus{"paused"}})
			Expect(err).To(MatchError(service.ErrInvalidInput))

			tasks, err := e.services.Query().ListTasks(ctx, store.TaskFilter{Statuses: []model.TaskStatus{model.TaskStatusPending}})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
		})
	})
})
