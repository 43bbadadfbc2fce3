package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"issuemind.app/triage/common/llm"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/internal/model"
)

const (
	relatedCandidateLimit = 10
	maxCommentsInPrompt   = 20
	maxBodyChars          = 8000
)

var (
	summarySchema = llm.GenerateSchema[SummaryOutput]()
	fixSchema     = llm.GenerateSchema[FixOutput]()
	explainSchema = llm.GenerateSchema[ExplainOutput]()
	relatedSchema = llm.GenerateSchema[RelatedOutput]()
)

// LLMBackend runs every task kind as one structured-output chat call.
type LLMBackend struct {
	client    llm.Client
	maxTokens int
}

func NewLLMBackend(client llm.Client, maxTokens int) *LLMBackend {
	return &LLMBackend{client: client, maxTokens: maxTokens}
}

func (b *LLMBackend) Name() string {
	return "llm:" + b.client.Model()
}

func (b *LLMBackend) Run(ctx context.Context, kind model.TaskKind, content IssueContent) (*Result, error) {
	if err := content.Validate(); err != nil {
		return nil, err
	}

	result := &Result{Kind: kind}
	prompt := buildIssuePrompt(content)
	start := time.Now()

	var err error
	switch kind {
	case model.TaskKindSummary:
		result.Summary = &SummaryOutput{}
		err = b.chat(ctx, "issue_summary", summarySystemPrompt, prompt, summarySchema, result.Summary)
	case model.TaskKindExplain:
		result.Explain = &ExplainOutput{}
		err = b.chat(ctx, "issue_explanation", explainSystemPrompt, prompt, explainSchema, result.Explain)
	case model.TaskKindFix:
		result.Fix = &FixOutput{}
		err = b.chat(ctx, "issue_fix", fixSystemPrompt, prompt, fixSchema, result.Fix)
	case model.TaskKindRelated:
		result.Related, err = b.related(ctx, content, prompt)
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrBackendPermanent, kind)
	}
	if err != nil {
		return nil, ClassifyError(err)
	}

	slog.InfoContext(ctx, "ai backend call completed",
		"backend", b.Name(),
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

func (b *LLMBackend) chat(ctx context.Context, schemaName, system, prompt string, schema, out any) error {
	_, err := b.client.Chat(ctx, llm.Request{
		SystemPrompt: system,
		UserPrompt:   prompt,
		SchemaName:   schemaName,
		Schema:       schema,
		MaxTokens:    b.maxTokens,
		Temperature:  llm.Temp(0.2),
	}, out)
	return err
}

// related pre-ranks candidates locally and lets the model pick from the
// shortlist. Without candidates there is nothing to ask.
func (b *LLMBackend) related(ctx context.Context, content IssueContent, prompt string) (*RelatedOutput, error) {
	shortlist := RankCandidates(content, relatedCandidateLimit)
	if len(shortlist) == 0 {
		slog.DebugContext(ctx, "no related candidates above zero similarity", "issue_number", content.Number)
		return &RelatedOutput{Related: []RelatedMatch{}}, nil
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("## Candidate issues\n")
	for _, c := range shortlist {
		fmt.Fprintf(&sb, "- #%d: %s\n  %s\n", c.Number, c.Title, logger.Truncate(oneLine(c.Body), 300))
	}

	var out RelatedOutput
	if err := b.chat(ctx, "related_issues", relatedSystemPrompt, sb.String(), relatedSchema, &out); err != nil {
		return nil, err
	}

	shortContent := content
	shortContent.Candidates = make([]Candidate, len(shortlist))
	for i, s := range shortlist {
		shortContent.Candidates[i] = s.Candidate
	}
	out.Related = normalizeRelated(out.Related, shortContent)
	return &out, nil
}

func buildIssuePrompt(content IssueContent) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Issue #%d in %s\n", content.Number, content.Repository)
	if content.Title != "" {
		sb.WriteString("## Title\n")
		sb.WriteString(content.Title)
		sb.WriteString("\n\n")
	}
	if len(content.Labels) > 0 {
		sb.WriteString("## Labels\n")
		sb.WriteString(strings.Join(content.Labels, ", "))
		sb.WriteString("\n\n")
	}
	if content.Body != "" {
		sb.WriteString("## Description\n")
		sb.WriteString(logger.Truncate(content.Body, maxBodyChars))
		sb.WriteString("\n\n")
	}

	comments := content.Comments
	if len(comments) > maxCommentsInPrompt {
		comments = comments[len(comments)-maxCommentsInPrompt:]
	}
	if len(comments) > 0 {
		sb.WriteString("## Discussion\n")
		for _, c := range comments {
			fmt.Fprintf(&sb, "- [%s]: %s\n", c.Author, logger.Truncate(c.Body, 1000))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
