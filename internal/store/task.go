package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/model"
)

type taskStore struct {
	queries *db.Queries
}

func newTaskStore(queries *db.Queries) TaskStore {
	return &taskStore{queries: queries}
}

const taskColumns = `id, repository_id, issue_id, kind, status, attempts, result, failure_reason,
	retryable, retry_of, trace_id, created_at, started_at, completed_at, updated_at`

func (s *taskStore) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+taskColumns+` FROM ai_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, wrapNotFound(err, "get task")
	}
	return task, nil
}

func (s *taskStore) Create(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}

	var retryOf sql.NullInt64
	if task.RetryOf != nil {
		retryOf = sql.NullInt64{Int64: *task.RetryOf, Valid: true}
	}

	_, err := s.queries.Exec(ctx,
		`INSERT INTO ai_tasks (id, repository_id, issue_id, kind, status, attempts, failure_reason,
			retryable, retry_of, trace_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RepositoryID, task.IssueID, string(task.Kind), string(task.Status), task.Attempts,
		task.FailureReason, task.Retryable, retryOf, task.TraceID, toMillis(task.CreatedAt), toMillis(task.UpdatedAt),
	)
	if err != nil {
		return wrapConflict(err, "create task")
	}
	return nil
}

func (s *taskStore) Claim(ctx context.Context, id int64, at time.Time) (bool, *model.Task, error) {
	res, err := s.queries.Exec(ctx,
		`UPDATE ai_tasks SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		toMillis(at), toMillis(at), id)
	if err != nil {
		return false, nil, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		// Already claimed, cancelled, or gone.
		return false, nil, nil
	}

	task, err := s.GetByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return true, task, nil
}

func (s *taskStore) RecordAttempt(ctx context.Context, id int64, attempts int) error {
	res, err := s.queries.Exec(ctx,
		`UPDATE ai_tasks SET attempts = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		attempts, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("record task attempt: %w", err)
	}
	return requireOneRow(res)
}

func (s *taskStore) Complete(ctx context.Context, id int64, result json.RawMessage, at time.Time) (bool, error) {
	var payload any
	if len(result) > 0 {
		payload = string(result)
	}
	res, err := s.queries.Exec(ctx,
		`UPDATE ai_tasks SET status = 'completed', result = ?, failure_reason = '', retryable = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		payload, false, toMillis(at), toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return affectedOne(res)
}

func (s *taskStore) Fail(ctx context.Context, id int64, reason string, retryable bool, at time.Time) (bool, error) {
	res, err := s.queries.Exec(ctx,
		`UPDATE ai_tasks SET status = 'failed', failure_reason = ?, retryable = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		reason, retryable, toMillis(at), toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	return affectedOne(res)
}

func (s *taskStore) CancelPending(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.queries.Exec(ctx,
		`UPDATE ai_tasks SET status = 'failed', failure_reason = ?, retryable = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		model.ReasonCancelled, true, toMillis(at), toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	return affectedOne(res)
}

func (s *taskStore) FailAllRunning(ctx context.Context, reason string, at time.Time) ([]model.Task, error) {
	running, err := s.List(ctx, TaskFilter{Statuses: []model.TaskStatus{model.TaskStatusRunning}})
	if err != nil {
		return nil, err
	}

	failed := make([]model.Task, 0, len(running))
	for _, task := range running {
		ok, err := s.Fail(ctx, task.ID, reason, true, at)
		if err != nil {
			return failed, err
		}
		if !ok {
			continue
		}
		task.Status = model.TaskStatusFailed
		task.FailureReason = reason
		task.Retryable = true
		task.CompletedAt = &at
		task.UpdatedAt = at
		failed = append(failed, task)
	}
	return failed, nil
}

func (s *taskStore) ListPending(ctx context.Context) ([]model.Task, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT `+taskColumns+` FROM ai_tasks WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *taskStore) List(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.RepositoryID != nil {
		where = append(where, "repository_id = ?")
		args = append(args, *filter.RepositoryID)
	}
	if filter.IssueID != nil {
		where = append(where, "issue_id = ?")
		args = append(args, *filter.IssueID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+db.Placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Kinds) > 0 {
		where = append(where, "kind IN ("+db.Placeholders(len(filter.Kinds))+")")
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}

	query := `SELECT ` + taskColumns + ` FROM ai_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.queries.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *taskStore) DeleteCompleted(ctx context.Context, repositoryID *int64) (int64, error) {
	query := `DELETE FROM ai_tasks WHERE status = 'completed'`
	var args []any
	if repositoryID != nil {
		query += " AND repository_id = ?"
		args = append(args, *repositoryID)
	}

	res, err := s.queries.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *taskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.queries.Exec(ctx,
		`DELETE FROM ai_tasks WHERE status IN ('completed', 'failed') AND completed_at < ?`,
		toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}
	return res.RowsAffected()
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	tasks := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		task        model.Task
		kind        string
		status      string
		result      []byte
		retryOf     sql.NullInt64
		createdAt   int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		updatedAt   int64
	)
	err := row.Scan(
		&task.ID, &task.RepositoryID, &task.IssueID, &kind, &status, &task.Attempts, &result,
		&task.FailureReason, &task.Retryable, &retryOf, &task.TraceID, &createdAt, &startedAt,
		&completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Kind = model.TaskKind(kind)
	task.Status = model.TaskStatus(status)
	if len(result) > 0 {
		task.Result = json.RawMessage(result)
	}
	task.RetryOf = fromNullInt64(retryOf)
	task.CreatedAt = fromMillis(createdAt)
	task.StartedAt = fromNullMillis(startedAt)
	task.CompletedAt = fromNullMillis(completedAt)
	task.UpdatedAt = fromMillis(updatedAt)
	return &task, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
