package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"issuemind.app/triage/internal/model"
)

// Backend runs one AI operation against the content of one issue.
// Errors are classified with the sentinels in errors.go.
type Backend interface {
	Run(ctx context.Context, kind model.TaskKind, content IssueContent) (*Result, error)
	Name() string
}

type CommentContent struct {
	Author string
	Body   string
}

// Candidate is another issue of the same repository considered by "related".
type Candidate struct {
	Title  string
	Body   string
	Number int64
}

type IssueContent struct {
	Repository string
	Title      string
	Body       string
	Labels     []string
	Comments   []CommentContent
	Candidates []Candidate
	Number     int64
}

// ContentFromIssue builds backend input from stored rows. The issue itself
// is never a candidate.
func ContentFromIssue(repo model.Repository, issue model.Issue, others []model.Issue) IssueContent {
	content := IssueContent{
		Repository: repo.FullName(),
		Title:      issue.Title,
		Body:       issue.Body,
		Labels:     issue.Labels,
		Number:     issue.Number,
	}
	for _, c := range issue.Comments {
		content.Comments = append(content.Comments, CommentContent{Author: c.Author, Body: c.Body})
	}
	for _, o := range others {
		if o.Number == issue.Number {
			continue
		}
		content.Candidates = append(content.Candidates, Candidate{Title: o.Title, Body: o.Body, Number: o.Number})
	}
	return content
}

func (c IssueContent) Validate() error {
	if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("issue #%d: %w", c.Number, ErrMalformedIssue)
	}
	return nil
}

type SummaryOutput struct {
	Summary  string   `json:"summary" jsonschema_description:"Two or three sentence summary of the issue"`
	Priority string   `json:"priority" jsonschema:"enum=low,enum=medium,enum=high,enum=critical,enum=urgent" jsonschema_description:"Triage priority"`
	Tags     []string `json:"tags" jsonschema_description:"Up to five short lowercase tags"`
}

type FixOutput struct {
	Diff          string   `json:"diff" jsonschema_description:"Proposed change as a unified diff, empty when no concrete change can be proposed"`
	Explanation   string   `json:"explanation" jsonschema_description:"What the change does and why it fixes the issue"`
	AffectedFiles []string `json:"affected_files" jsonschema_description:"Repository paths the change touches"`
}

type ExplainOutput struct {
	Explanation string `json:"explanation" jsonschema_description:"Plain-language explanation of the problem and its likely cause"`
}

type RelatedMatch struct {
	Title  string  `json:"title" jsonschema_description:"Title of the related issue"`
	Number int64   `json:"issue_number" jsonschema_description:"Number of a candidate issue"`
	Score  float64 `json:"score" jsonschema_description:"Relatedness between 0 and 1"`
}

type RelatedOutput struct {
	Related []RelatedMatch `json:"related" jsonschema_description:"Candidates that are related, most related first"`
}

// Result holds the payload for exactly one kind.
type Result struct {
	Summary *SummaryOutput
	Fix     *FixOutput
	Explain *ExplainOutput
	Related *RelatedOutput
	Kind    model.TaskKind
}

// Payload is the JSON stored as the task result.
func (r *Result) Payload() (json.RawMessage, error) {
	var v any
	switch r.Kind {
	case model.TaskKindSummary:
		v = r.Summary
	case model.TaskKindFix:
		v = r.Fix
	case model.TaskKindExplain:
		v = r.Explain
	case model.TaskKindRelated:
		v = r.Related
	default:
		return nil, fmt.Errorf("unknown task kind %q", r.Kind)
	}
	return json.Marshal(v)
}

// Patch converts the result into the annotation field group it owns.
func (r *Result) Patch(taskID int64, at time.Time) (model.AnnotationPatch, error) {
	patch := model.AnnotationPatch{Kind: r.Kind}

	switch r.Kind {
	case model.TaskKindSummary:
		if r.Summary == nil {
			return patch, fmt.Errorf("%w: empty summary result", ErrBackendPermanent)
		}
		priority, ok := model.ParsePriority(r.Summary.Priority)
		if !ok {
			return patch, fmt.Errorf("%w: unknown priority %q", ErrBackendPermanent, r.Summary.Priority)
		}
		patch.Summary = &model.SummaryGroup{
			UpdatedAt: at,
			Summary:   strings.TrimSpace(r.Summary.Summary),
			Priority:  priority,
			Tags:      normalizeTags(r.Summary.Tags),
			TaskID:    taskID,
		}
	case model.TaskKindFix:
		if r.Fix == nil {
			return patch, fmt.Errorf("%w: empty fix result", ErrBackendPermanent)
		}
		files := r.Fix.AffectedFiles
		if files == nil {
			files = []string{}
		}
		patch.Fix = &model.FixGroup{
			UpdatedAt:     at,
			Diff:          r.Fix.Diff,
			Explanation:   strings.TrimSpace(r.Fix.Explanation),
			AffectedFiles: files,
			TaskID:        taskID,
		}
	case model.TaskKindExplain:
		if r.Explain == nil {
			return patch, fmt.Errorf("%w: empty explain result", ErrBackendPermanent)
		}
		patch.Explain = &model.ExplainGroup{
			UpdatedAt:   at,
			Explanation: strings.TrimSpace(r.Explain.Explanation),
			TaskID:      taskID,
		}
	case model.TaskKindRelated:
		related := []model.RelatedIssue{}
		if r.Related != nil {
			for _, m := range r.Related.Related {
				related = append(related, model.RelatedIssue{Title: m.Title, Number: m.Number, Score: m.Score})
			}
		}
		patch.Related = &model.RelatedGroup{UpdatedAt: at, Related: related, TaskID: taskID}
	default:
		return patch, fmt.Errorf("unknown task kind %q", r.Kind)
	}

	return patch, nil
}

// normalizeRelated keeps only known candidates, drops the issue itself and
// duplicates, clamps scores to [0,1], fills titles and orders by score.
func normalizeRelated(matches []RelatedMatch, content IssueContent) []RelatedMatch {
	byNumber := make(map[int64]Candidate, len(content.Candidates))
	for _, c := range content.Candidates {
		byNumber[c.Number] = c
	}

	seen := make(map[int64]bool)
	out := make([]RelatedMatch, 0, len(matches))
	for _, m := range matches {
		cand, ok := byNumber[m.Number]
		if !ok || m.Number == content.Number || seen[m.Number] {
			continue
		}
		seen[m.Number] = true
		out = append(out, RelatedMatch{Title: cand.Title, Number: m.Number, Score: clamp01(m.Score)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
