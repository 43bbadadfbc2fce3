package model

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityNone     Priority = ""
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

// ParsePriority normalizes case and whitespace. Unknown values return false.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityUrgent:
		return p, true
	}
	return PriorityNone, false
}

// Rank orders priorities for sorting: urgent > critical > high > medium > low > none.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 5
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type SummaryGroup struct {
	UpdatedAt time.Time `json:"updated_at"`
	Summary   string    `json:"summary"`
	Priority  Priority  `json:"priority"`
	Tags      []string  `json:"tags"`
	TaskID    int64     `json:"task_id"`
}

type FixGroup struct {
	UpdatedAt     time.Time `json:"updated_at"`
	Diff          string    `json:"diff"`
	Explanation   string    `json:"explanation"`
	AffectedFiles []string  `json:"affected_files"`
	TaskID        int64     `json:"task_id"`
}

type ExplainGroup struct {
	UpdatedAt   time.Time `json:"updated_at"`
	Explanation string    `json:"explanation"`
	TaskID      int64     `json:"task_id"`
}

type RelatedIssue struct {
	Title  string  `json:"title"`
	Number int64   `json:"issue_number"`
	Score  float64 `json:"score"`
}

type RelatedGroup struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Related   []RelatedIssue `json:"related"`
	TaskID    int64          `json:"task_id"`
}

// Annotation is one immutable version of the AI-derived data for an issue.
// Each field group is replaced independently by the task kind that owns it.
type Annotation struct {
	UpdatedAt       time.Time     `json:"updated_at"`
	Summary         *SummaryGroup `json:"summary,omitempty"`
	Fix             *FixGroup     `json:"fix,omitempty"`
	Explain         *ExplainGroup `json:"explain,omitempty"`
	Related         *RelatedGroup `json:"related,omitempty"`
	Kind            TaskKind      `json:"kind"`
	IssueID         int64         `json:"issue_id"`
	Version         int64         `json:"version"`
	UpdatedByTaskID int64         `json:"updated_by_task_id"`
}

func (a *Annotation) Priority() Priority {
	if a == nil || a.Summary == nil {
		return PriorityNone
	}
	return a.Summary.Priority
}

func (a *Annotation) Tags() []string {
	if a == nil || a.Summary == nil {
		return nil
	}
	return a.Summary.Tags
}

func (a *Annotation) SummaryText() string {
	if a == nil || a.Summary == nil {
		return ""
	}
	return a.Summary.Summary
}

// AnnotationPatch carries exactly one field group, selected by Kind.
type AnnotationPatch struct {
	Summary *SummaryGroup
	Fix     *FixGroup
	Explain *ExplainGroup
	Related *RelatedGroup
	Kind    TaskKind
}

// Merge returns a copy of base with the patch's group replaced. base may be nil.
func (p AnnotationPatch) Merge(base *Annotation) Annotation {
	var next Annotation
	if base != nil {
		next = *base
	}

	switch p.Kind {
	case TaskKindSummary:
		next.Summary = p.Summary
	case TaskKindFix:
		next.Fix = p.Fix
	case TaskKindExplain:
		next.Explain = p.Explain
	case TaskKindRelated:
		next.Related = p.Related
	}
	next.Kind = p.Kind
	return next
}
