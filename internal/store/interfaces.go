package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"issuemind.app/triage/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// RepositoryStore defines the contract for repository data access
type RepositoryStore interface {
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	GetByRef(ctx context.Context, ref model.RepositoryRef) (*model.Repository, error)
	Create(ctx context.Context, repo *model.Repository) error
	UpdateMetadata(ctx context.Context, repo *model.Repository) error
	// MarkSynced records a finished sync and recomputes issue counts from mirrored rows.
	MarkSynced(ctx context.Context, id int64, syncedAt time.Time, cursor *time.Time) error
	// RecordSyncError stores a failed sync attempt; last_synced_at is untouched.
	RecordSyncError(ctx context.Context, id int64, msg string, attemptedAt time.Time) error
	List(ctx context.Context) ([]model.Repository, error)
}

// IssueSyncState is the minimal stored state the sync diff needs.
type IssueSyncState struct {
	UpdatedAt   time.Time
	State       model.IssueState
	ContentHash string
	ID          int64
	Number      int64
}

// IssueStore defines the contract for issue data access. Only ingestion writes.
type IssueStore interface {
	GetByID(ctx context.Context, id int64) (*model.Issue, error)
	GetByNumber(ctx context.Context, repositoryID, number int64) (*model.Issue, error)
	// Upsert inserts or updates by (repository_id, number); issue.ID is kept on insert.
	Upsert(ctx context.Context, issue *model.Issue) (*model.Issue, error)
	UpsertComments(ctx context.Context, issueID int64, comments []model.Comment) error
	ListComments(ctx context.Context, issueID int64) ([]model.Comment, error)
	ListByRepository(ctx context.Context, repositoryID int64) ([]model.Issue, error)
	ListSyncStates(ctx context.Context, repositoryID int64) (map[int64]IssueSyncState, error)
}

// AnnotationStore holds immutable annotation versions and the per-issue head pointer.
type AnnotationStore interface {
	Get(ctx context.Context, issueID int64) (*model.Annotation, error)
	History(ctx context.Context, issueID int64) ([]model.Annotation, error)
	ListCurrentByRepository(ctx context.Context, repositoryID int64) (map[int64]*model.Annotation, error)
	// InsertVersion returns ErrConflict when the version already exists.
	InsertVersion(ctx context.Context, ann *model.Annotation) error
	// SwapHead points the head at ann.Version if it still points at expected
	// (0 means no head yet). Returns false when another writer won.
	SwapHead(ctx context.Context, ann *model.Annotation, expected int64) (bool, error)
}

// TaskFilter narrows ListTasks. Empty slices match everything.
type TaskFilter struct {
	RepositoryID *int64
	IssueID      *int64
	Statuses     []model.TaskStatus
	Kinds        []model.TaskKind
	Limit        int
}

// TaskStore defines the contract for AI task data access. Status updates are
// compare-and-set on the current status and report whether they applied.
type TaskStore interface {
	GetByID(ctx context.Context, id int64) (*model.Task, error)
	// Create returns ErrConflict when an active task exists for (issue, kind).
	Create(ctx context.Context, task *model.Task) error
	Claim(ctx context.Context, id int64, at time.Time) (bool, *model.Task, error)
	RecordAttempt(ctx context.Context, id int64, attempts int) error
	Complete(ctx context.Context, id int64, result json.RawMessage, at time.Time) (bool, error)
	Fail(ctx context.Context, id int64, reason string, retryable bool, at time.Time) (bool, error)
	CancelPending(ctx context.Context, id int64, at time.Time) (bool, error)
	FailAllRunning(ctx context.Context, reason string, at time.Time) ([]model.Task, error)
	ListPending(ctx context.Context) ([]model.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	DeleteCompleted(ctx context.Context, repositoryID *int64) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
