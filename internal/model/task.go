package model

import (
	"encoding/json"
	"time"
)

type TaskKind string

const (
	TaskKindSummary TaskKind = "summary"
	TaskKindFix     TaskKind = "fix"
	TaskKindExplain TaskKind = "explain"
	TaskKindRelated TaskKind = "related"
)

var TaskKinds = []TaskKind{TaskKindSummary, TaskKindFix, TaskKindExplain, TaskKindRelated}

func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindSummary, TaskKindFix, TaskKindExplain, TaskKindRelated:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Task is one AI operation on one issue. Terminal tasks are immutable.
type Task struct {
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	RetryOf       *int64          `json:"retry_of,omitempty"`
	Kind          TaskKind        `json:"kind"`
	Status        TaskStatus      `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	TraceID       string          `json:"-"`
	Result        json.RawMessage `json:"result,omitempty"`
	ID            int64           `json:"id"`
	RepositoryID  int64           `json:"repository_id"`
	IssueID       int64           `json:"issue_id"`
	Attempts      int             `json:"attempts"`
	Retryable     bool            `json:"retryable"`
}

// Failure reasons recorded by transitions outside the AI backend.
const (
	ReasonCancelled   = "cancelled before execution"
	ReasonInterrupted = "interrupted by restart"
	ReasonOutcomeLost = "worker could not record the outcome"
)

// TaskStatusEvent is published on every task transition.
type TaskStatusEvent struct {
	At            time.Time  `json:"at"`
	Kind          TaskKind   `json:"kind"`
	Status        TaskStatus `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	TaskID        int64      `json:"task_id"`
	IssueID       int64      `json:"issue_id"`
	RepositoryID  int64      `json:"repository_id"`
	Attempts      int        `json:"attempts"`
}

func (t Task) StatusEvent(at time.Time) TaskStatusEvent {
	return TaskStatusEvent{
		At:            at,
		Kind:          t.Kind,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		TaskID:        t.ID,
		IssueID:       t.IssueID,
		RepositoryID:  t.RepositoryID,
		Attempts:      t.Attempts,
	}
}
