package brain_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/brain"
	"issuemind.app/triage/internal/model"
)

var _ = Describe("HeuristicBackend", func() {
	var (
		backend *brain.HeuristicBackend
		ctx     context.Context
	)

	BeforeEach(func() {
		backend = brain.NewHeuristicBackend()
		ctx = context.Background()
	})

	DescribeTable("derives priority",
		func(title, body string, labels []string, want string) {
			result, err := backend.Run(ctx, model.TaskKindSummary, brain.IssueContent{Title: title, Body: body, Labels: labels})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Summary.Priority).To(Equal(want))
		},
		Entry("explicit priority label wins", "Typo in README", "", []string{"priority: urgent"}, "urgent"),
		Entry("outage is urgent", "API outage in eu-west", "", nil, "urgent"),
		Entry("crash is critical", "App crash on startup", "", nil, "critical"),
		Entry("error is high", "Export fails with error 500", "", nil, "high"),
		Entry("docs are low", "Fix typo in docs", "", nil, "low"),
		Entry("no signal is medium", "Support exporting CSV", "It would help our team.", nil, "medium"),
		Entry("matches whole words only", "Terrorist scenario wording", "", nil, "low"),
	)

	It("summarizes the first prose paragraph and tags from labels and keywords", func() {
		body := "<!-- template -->\n\n## Users see a blank page when the export button is clicked and the request times out.\n\nMore detail follows."
		result, err := backend.Run(ctx, model.TaskKindSummary, brain.IssueContent{
			Title:  "Export is slow",
			Body:   body,
			Labels: []string{"Export"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Summary.Summary).To(Equal("Users see a blank page when the export button is clicked and the request times out."))
		Expect(result.Summary.Tags).To(ContainElements("export", "performance", "ui"))
		Expect(len(result.Summary.Tags)).To(BeNumerically("<=", 5))
	})

	It("truncates long summaries on a word boundary", func() {
		result, err := backend.Run(ctx, model.TaskKindSummary, brain.IssueContent{
			Title: "t",
			Body:  strings.Repeat("word ", 200),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Summary.Summary).To(HaveSuffix("word..."))
		Expect(len(result.Summary.Summary)).To(BeNumerically("<=", 283))
	})

	It("lists files mentioned in the report for fix", func() {
		result, err := backend.Run(ctx, model.TaskKindFix, brain.IssueContent{
			Title:    "Nil pointer in handler",
			Body:     "Stack trace points at internal/http/handler.go line 40.",
			Comments: []brain.CommentContent{{Body: "Also see config/app.yaml"}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fix.Diff).To(BeEmpty())
		Expect(result.Fix.AffectedFiles).To(Equal([]string{"internal/http/handler.go", "config/app.yaml"}))
		Expect(result.Fix.Explanation).To(ContainSubstring("internal/http/handler.go"))
	})

	It("explains using title and first paragraph", func() {
		result, err := backend.Run(ctx, model.TaskKindExplain, brain.IssueContent{
			Number: 8,
			Title:  "Webhook retries forever.",
			Body:   "Deliveries that return 410 are retried.",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Explain.Explanation).To(HavePrefix("Issue #8 reports: Webhook retries forever."))
		Expect(result.Explain.Explanation).To(ContainSubstring("Deliveries that return 410"))
	})

	It("links only sufficiently similar candidates", func() {
		result, err := backend.Run(ctx, model.TaskKindRelated, brain.IssueContent{
			Number: 1,
			Title:  "Login redirect loop",
			Body:   "login redirect loop after reset",
			Candidates: []brain.Candidate{
				{Number: 2, Title: "Redirect loop on login page"},
				{Number: 3, Title: "Billing invoice totals"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Related.Related).To(HaveLen(1))
		Expect(result.Related.Related[0].Number).To(Equal(int64(2)))
		Expect(result.Related.Related[0].Score).To(And(BeNumerically(">", 0), BeNumerically("<=", 1)))
	})

	It("fails on empty content and on a cancelled context", func() {
		_, err := backend.Run(ctx, model.TaskKindSummary, brain.IssueContent{})
		Expect(err).To(MatchError(brain.ErrMalformedIssue))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = backend.Run(cancelled, model.TaskKindSummary, brain.IssueContent{Title: "x"})
		Expect(err).To(MatchError(context.Canceled))
	})
})
