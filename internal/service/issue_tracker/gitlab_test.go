package issue_tracker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service/issue_tracker"
)

var _ = Describe("GitLab provider", func() {
	var (
		ctx      context.Context
		handler  http.HandlerFunc
		provider issue_tracker.Provider
		ref      model.RepositoryRef
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}
		// Project paths arrive URL-encoded, so route on the decoded path by hand.
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)

		var err error
		provider, err = issue_tracker.NewGitLabProvider("token", server.URL, server.Client())
		Expect(err).NotTo(HaveOccurred())
		ref = model.RepositoryRef{Provider: model.ProviderGitLab, Owner: "acme", Name: "demo"}
	})

	It("maps project issues and their states", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v4/projects/acme/demo/issues" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[
				{"id": 501, "iid": 342, "title": "Crash on save", "description": "steps", "state": "opened",
				 "labels": ["bug", "p1"], "author": {"username": "alice"}, "assignees": [{"username": "bob"}],
				 "web_url": "https://gitlab.com/acme/demo/-/issues/342", "user_notes_count": 3,
				 "created_at": "2024-04-01T00:00:00Z", "updated_at": "2024-05-02T00:00:00Z"},
				{"id": 502, "iid": 343, "title": "Old bug", "state": "closed",
				 "created_at": "2024-03-01T00:00:00Z", "updated_at": "2024-04-02T00:00:00Z",
				 "closed_at": "2024-04-02T00:00:00Z"}
			]`)
		}

		issues, err := provider.ListIssues(ctx, ref, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveLen(2))

		Expect(issues[0].Number).To(Equal(int64(342)))
		Expect(issues[0].State).To(Equal(model.IssueStateOpen))
		Expect(issues[0].Labels).To(ConsistOf("bug", "p1"))
		Expect(issues[0].Author).To(Equal("alice"))
		Expect(issues[0].Assignees).To(ConsistOf("bob"))
		Expect(issues[0].CommentCount).To(Equal(int64(3)))

		Expect(issues[1].State).To(Equal(model.IssueStateClosed))
		Expect(issues[1].ClosedAt).NotTo(BeNil())
	})

	It("skips system notes when listing comments", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v4/projects/acme/demo/issues/342/discussions" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[
				{"id": "d1", "notes": [
					{"id": 1, "body": "added ~bug label", "system": true, "author": {"username": "alice"}, "created_at": "2024-05-01T00:00:00Z"},
					{"id": 2, "body": "can reproduce", "author": {"username": "bob"}, "created_at": "2024-05-01T01:00:00Z"}
				]}
			]`)
		}

		comments, err := provider.ListComments(ctx, ref, 342)
		Expect(err).NotTo(HaveOccurred())
		Expect(comments).To(HaveLen(1))
		Expect(comments[0].Author).To(Equal("bob"))
		Expect(comments[0].ExternalID).To(Equal("2"))
	})

	It("maps 401 to an auth error", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message": "401 Unauthorized"}`)
		}

		_, err := provider.GetRepository(ctx, ref)
		Expect(err).To(MatchError(issue_tracker.ErrProviderAuth))
		Expect(issue_tracker.IsRetryable(err)).To(BeFalse())
	})
})

var _ = Describe("Registry", func() {
	It("returns registered providers and rejects unknown ones", func() {
		registry := issue_tracker.NewRegistry()
		gh, err := issue_tracker.NewGitHubProvider("", "", nil)
		Expect(err).NotTo(HaveOccurred())
		registry.Register(model.ProviderGitHub, gh)

		got, err := registry.Get(model.ProviderGitHub)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(gh))

		_, err = registry.Get(model.ProviderGitLab)
		Expect(err).To(MatchError(issue_tracker.ErrUnsupportedProvider))
	})
})
