package issue_tracker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service/issue_tracker"
)

var _ = Describe("GitHub provider", func() {
	var (
		ctx      context.Context
		mux      *http.ServeMux
		server   *httptest.Server
		provider issue_tracker.Provider
		ref      model.RepositoryRef
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)

		var err error
		provider, err = issue_tracker.NewGitHubProvider("token", server.URL+"/api/v3/", server.Client())
		Expect(err).NotTo(HaveOccurred())
		ref = model.RepositoryRef{Provider: model.ProviderGitHub, Owner: "acme", Name: "demo"}
	})

	It("maps repository metadata", func() {
		mux.HandleFunc("/api/v3/repos/acme/demo", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer token"))
			fmt.Fprint(w, `{"id": 99, "description": "demo repo", "language": "Go",
				"html_url": "https://github.com/acme/demo", "stargazers_count": 42,
				"pushed_at": "2024-05-01T10:00:00Z"}`)
		})

		meta, err := provider.GetRepository(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.ExternalID).To(Equal("99"))
		Expect(meta.Language).To(Equal("Go"))
		Expect(meta.Stars).To(Equal(int64(42)))
		Expect(*meta.LastActivityAt).To(BeTemporally("==", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	})

	It("walks every page, skips pull requests and passes since", func() {
		since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		mux.HandleFunc("/api/v3/repos/acme/demo/issues", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Query().Get("state")).To(Equal("all"))
			Expect(r.URL.Query().Get("since")).To(Equal("2024-05-01T00:00:00Z"))

			if r.URL.Query().Get("page") == "2" {
				fmt.Fprint(w, `[{"id": 3, "number": 343, "title": "closed one", "state": "closed",
					"created_at": "2024-04-01T00:00:00Z", "updated_at": "2024-05-03T00:00:00Z",
					"closed_at": "2024-05-03T00:00:00Z"}]`)
				return
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/acme/demo/issues?page=2>; rel="next"`, server.URL))
			fmt.Fprint(w, `[
				{"id": 1, "number": 342, "title": "Crash on save", "body": "steps", "state": "open",
				 "user": {"login": "alice"}, "labels": [{"name": "bug"}], "assignees": [{"login": "bob"}],
				 "comments": 2, "created_at": "2024-04-01T00:00:00Z", "updated_at": "2024-05-02T00:00:00Z"},
				{"id": 2, "number": 10, "title": "a PR", "state": "open",
				 "pull_request": {"url": "https://api.github.com/repos/acme/demo/pulls/10"}}
			]`)
		})

		issues, err := provider.ListIssues(ctx, ref, &since)
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveLen(2))

		Expect(issues[0].Number).To(Equal(int64(342)))
		Expect(issues[0].Author).To(Equal("alice"))
		Expect(issues[0].Labels).To(ConsistOf("bug"))
		Expect(issues[0].Assignees).To(ConsistOf("bob"))
		Expect(issues[0].CommentCount).To(Equal(int64(2)))
		Expect(issues[0].State).To(Equal(model.IssueStateOpen))

		Expect(issues[1].Number).To(Equal(int64(343)))
		Expect(issues[1].State).To(Equal(model.IssueStateClosed))
		Expect(issues[1].ClosedAt).NotTo(BeNil())
	})

	It("returns comments oldest first", func() {
		mux.HandleFunc("/api/v3/repos/acme/demo/issues/342/comments", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[
				{"id": 8, "body": "later", "user": {"login": "bob"}, "created_at": "2024-05-02T00:00:00Z", "updated_at": "2024-05-02T00:00:00Z"},
				{"id": 7, "body": "first", "user": {"login": "alice"}, "created_at": "2024-05-01T00:00:00Z", "updated_at": "2024-05-01T00:00:00Z"}
			]`)
		})

		comments, err := provider.ListComments(ctx, ref, 342)
		Expect(err).NotTo(HaveOccurred())
		Expect(comments).To(HaveLen(2))
		Expect(comments[0].Body).To(Equal("first"))
		Expect(comments[1].ExternalID).To(Equal("8"))
	})

	DescribeTable("classifies provider errors",
		func(status int, headers map[string]string, want error) {
			mux.HandleFunc("/api/v3/repos/acme/demo", func(w http.ResponseWriter, r *http.Request) {
				for k, v := range headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(status)
				fmt.Fprint(w, `{"message": "nope"}`)
			})

			_, err := provider.GetRepository(ctx, ref)
			Expect(err).To(MatchError(want))
		},
		Entry("401 is an auth error", http.StatusUnauthorized, nil, issue_tracker.ErrProviderAuth),
		Entry("403 is an auth error", http.StatusForbidden, nil, issue_tracker.ErrProviderAuth),
		Entry("404 is not found", http.StatusNotFound, nil, issue_tracker.ErrProviderNotFound),
		Entry("502 is unavailable", http.StatusBadGateway, nil, issue_tracker.ErrProviderUnavailable),
		Entry("429 is unavailable", http.StatusTooManyRequests, nil, issue_tracker.ErrProviderUnavailable),
		Entry("exhausted rate limit is unavailable", http.StatusForbidden, map[string]string{
			"X-RateLimit-Limit":     "5000",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     fmt.Sprint(time.Now().Add(time.Hour).Unix()),
		}, issue_tracker.ErrProviderUnavailable),
	)

	It("treats a dead server as unavailable", func() {
		server.Close()
		_, err := provider.GetRepository(ctx, ref)
		Expect(err).To(MatchError(issue_tracker.ErrProviderUnavailable))
		Expect(issue_tracker.IsRetryable(err)).To(BeTrue())
	})
})
