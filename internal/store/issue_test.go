package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
)

var _ = Describe("IssueStore", func() {
	var (
		ctx    context.Context
		stores *store.Stores
		repo   *model.Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = store.NewStores(openTestDB(ctx).Queries())
		repo = seedRepository(ctx, stores, "acme", "demo")
	})

	It("upserts by repository and number, keeping the original id", func() {
		first := seedIssue(ctx, stores, repo.ID, 342, "Crash on save")

		updated := *first
		updated.ID = id.New()
		updated.Title = "Crash on save (windows)"
		updated.Labels = []string{"bug", "windows"}
		updated.ContentHash = ""
		got, err := stores.Issues().Upsert(ctx, &updated)
		Expect(err).NotTo(HaveOccurred())

		Expect(got.ID).To(Equal(first.ID))
		Expect(got.Title).To(Equal("Crash on save (windows)"))
		Expect(got.Labels).To(ConsistOf("bug", "windows"))
		Expect(got.ContentHash).NotTo(Equal(first.ContentHash))

		byNumber, err := stores.Issues().GetByNumber(ctx, repo.ID, 342)
		Expect(err).NotTo(HaveOccurred())
		Expect(byNumber.ID).To(Equal(first.ID))
	})

	It("lists sync states keyed by number", func() {
		seedIssue(ctx, stores, repo.ID, 1, "one")
		seedIssue(ctx, stores, repo.ID, 2, "two")

		states, err := stores.Issues().ListSyncStates(ctx, repo.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(states).To(HaveLen(2))
		Expect(states).To(HaveKey(int64(2)))
		Expect(states[2].State).To(Equal(model.IssueStateOpen))
		Expect(states[2].ContentHash).NotTo(BeEmpty())
	})

	It("upserts comments idempotently by external id", func() {
		issue := seedIssue(ctx, stores, repo.ID, 7, "with comments")
		at := time.Now().UTC().Truncate(time.Millisecond)

		comments := []model.Comment{
			{ID: id.New(), ExternalID: "c1", Author: "alice", Body: "repro attached", CreatedAt: at, UpdatedAt: at},
			{ID: id.New(), ExternalID: "c2", Author: "bob", Body: "same here", CreatedAt: at.Add(time.Second), UpdatedAt: at.Add(time.Second)},
		}
		Expect(stores.Issues().UpsertComments(ctx, issue.ID, comments)).To(Succeed())

		comments[0].ID = id.New()
		comments[0].Body = "repro attached (edited)"
		Expect(stores.Issues().UpsertComments(ctx, issue.ID, comments[:1])).To(Succeed())

		got, err := stores.Issues().ListComments(ctx, issue.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Body).To(Equal("repro attached (edited)"))
		Expect(got[1].Author).To(Equal("bob"))
	})

	It("returns ErrNotFound for a missing issue", func() {
		_, err := stores.Issues().GetByID(ctx, 99)
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
