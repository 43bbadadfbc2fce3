package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/model"
)

type issueStore struct {
	queries *db.Queries
}

func newIssueStore(queries *db.Queries) IssueStore {
	return &issueStore{queries: queries}
}

const issueColumns = `id, repository_id, number, external_id, title, body, author, assignees, labels,
	state, url, content_hash, comment_count, provider_created_at, provider_updated_at, closed_at, synced_at`

func (s *issueStore) GetByID(ctx context.Context, id int64) (*model.Issue, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if err != nil {
		return nil, wrapNotFound(err, "get issue")
	}
	return issue, nil
}

func (s *issueStore) GetByNumber(ctx context.Context, repositoryID, number int64) (*model.Issue, error) {
	row := s.queries.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repository_id = ? AND number = ?`, repositoryID, number)
	issue, err := scanIssue(row)
	if err != nil {
		return nil, wrapNotFound(err, "get issue by number")
	}
	return issue, nil
}

func (s *issueStore) Upsert(ctx context.Context, issue *model.Issue) (*model.Issue, error) {
	assignees, err := marshalStrings(issue.Assignees)
	if err != nil {
		return nil, err
	}
	labels, err := marshalStrings(issue.Labels)
	if err != nil {
		return nil, err
	}
	if issue.SyncedAt.IsZero() {
		issue.SyncedAt = time.Now().UTC()
	}
	if issue.ContentHash == "" {
		issue.ContentHash = issue.ComputeContentHash()
	}

	var id int64
	err = s.queries.QueryRow(ctx,
		`INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			external_id = excluded.external_id,
			title = excluded.title,
			body = excluded.body,
			author = excluded.author,
			assignees = excluded.assignees,
			labels = excluded.labels,
			state = excluded.state,
			url = excluded.url,
			content_hash = excluded.content_hash,
			comment_count = excluded.comment_count,
			provider_updated_at = excluded.provider_updated_at,
			closed_at = excluded.closed_at,
			synced_at = excluded.synced_at
		RETURNING id`,
		issue.ID, issue.RepositoryID, issue.Number, issue.ExternalID, issue.Title, issue.Body, issue.Author,
		assignees, labels, string(issue.State), issue.URL, issue.ContentHash, issue.CommentCount,
		toMillis(issue.CreatedAt), toMillis(issue.UpdatedAt), nullMillis(issue.ClosedAt), toMillis(issue.SyncedAt),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert issue: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *issueStore) UpsertComments(ctx context.Context, issueID int64, comments []model.Comment) error {
	for _, c := range comments {
		_, err := s.queries.Exec(ctx,
			`INSERT INTO issue_comments (id, issue_id, external_id, author, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (issue_id, external_id) DO UPDATE SET
				author = excluded.author,
				body = excluded.body,
				updated_at = excluded.updated_at`,
			c.ID, issueID, c.ExternalID, c.Author, c.Body, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert comment %s: %w", c.ExternalID, err)
		}
	}
	return nil
}

func (s *issueStore) ListComments(ctx context.Context, issueID int64) ([]model.Comment, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT id, external_id, author, body, created_at, updated_at
		FROM issue_comments WHERE issue_id = ? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var (
			c         model.Comment
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.Author, &c.Body, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *issueStore) ListByRepository(ctx context.Context, repositoryID int64) ([]model.Issue, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repository_id = ? ORDER BY number`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func (s *issueStore) ListSyncStates(ctx context.Context, repositoryID int64) (map[int64]IssueSyncState, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT id, number, state, content_hash, provider_updated_at FROM issues WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list issue sync states: %w", err)
	}
	defer rows.Close()

	states := make(map[int64]IssueSyncState)
	for rows.Next() {
		var (
			st        IssueSyncState
			state     string
			updatedAt int64
		)
		if err := rows.Scan(&st.ID, &st.Number, &state, &st.ContentHash, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan issue sync state: %w", err)
		}
		st.State = model.IssueState(state)
		st.UpdatedAt = fromMillis(updatedAt)
		states[st.Number] = st
	}
	return states, rows.Err()
}

func scanIssue(row rowScanner) (*model.Issue, error) {
	var (
		issue     model.Issue
		assignees []byte
		labels    []byte
		state     string
		createdAt int64
		updatedAt int64
		closedAt  sql.NullInt64
		syncedAt  int64
	)
	err := row.Scan(
		&issue.ID, &issue.RepositoryID, &issue.Number, &issue.ExternalID, &issue.Title, &issue.Body,
		&issue.Author, &assignees, &labels, &state, &issue.URL, &issue.ContentHash, &issue.CommentCount,
		&createdAt, &updatedAt, &closedAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if issue.Assignees, err = unmarshalStrings(assignees); err != nil {
		return nil, fmt.Errorf("decode assignees: %w", err)
	}
	if issue.Labels, err = unmarshalStrings(labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	issue.State = model.IssueState(state)
	issue.CreatedAt = fromMillis(createdAt)
	issue.UpdatedAt = fromMillis(updatedAt)
	issue.ClosedAt = fromNullMillis(closedAt)
	issue.SyncedAt = fromMillis(syncedAt)
	return &issue, nil
}
