package logger

import (
	"context"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to the context and emitted with every log record
// written through that context. Business identifiers (task_id, issue_id,
// repository_id) flow through enrichment instead of being passed to each call.
type LogFields struct {
	TaskID       *int64  // AI task ID
	IssueID      *int64  // Issue ID
	RepositoryID *int64  // Repository ID
	MessageID    *string // Queue message ID
	TaskKind     *string // summary, fix, explain, related
	Component    string  // Dotted component name, e.g. "issuemind.worker.processor"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields; newer non-nil/non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields stored on ctx, or zero LogFields.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.TaskID != nil {
		result.TaskID = next.TaskID
	}
	if next.IssueID != nil {
		result.IssueID = next.IssueID
	}
	if next.RepositoryID != nil {
		result.RepositoryID = next.RepositoryID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.TaskKind != nil {
		result.TaskKind = next.TaskKind
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr returns a pointer to v.
// Handy inline: logger.WithLogFields(ctx, logger.LogFields{TaskID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
