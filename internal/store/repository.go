package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/model"
)

type repositoryStore struct {
	queries *db.Queries
}

func newRepositoryStore(queries *db.Queries) RepositoryStore {
	return &repositoryStore{queries: queries}
}

const repositoryColumns = `id, provider, owner, name, external_id, description, language, url,
	stars, open_issues, closed_issues, last_activity_at, sync_interval_ms, last_synced_at,
	sync_cursor, last_sync_error, created_at, updated_at, last_sync_attempt_at`

func (s *repositoryStore) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	repo, err := scanRepository(row)
	if err != nil {
		return nil, wrapNotFound(err, "get repository")
	}
	return repo, nil
}

func (s *repositoryStore) GetByRef(ctx context.Context, ref model.RepositoryRef) (*model.Repository, error) {
	row := s.queries.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE provider = ? AND owner = ? AND name = ?`,
		string(ref.Provider), ref.Owner, ref.Name)
	repo, err := scanRepository(row)
	if err != nil {
		return nil, wrapNotFound(err, "get repository by ref")
	}
	return repo, nil
}

func (s *repositoryStore) Create(ctx context.Context, repo *model.Repository) error {
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	_, err := s.queries.Exec(ctx,
		`INSERT INTO repositories (`+repositoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, string(repo.Provider), repo.Owner, repo.Name, repo.ExternalID, repo.Description,
		repo.Language, repo.URL, repo.Stars, repo.OpenIssues, repo.ClosedIssues,
		nullMillis(repo.LastActivityAt), repo.SyncInterval.Milliseconds(), nullMillis(repo.LastSyncedAt),
		nullMillis(repo.SyncCursor), repo.LastSyncError, toMillis(repo.CreatedAt), toMillis(repo.UpdatedAt),
		nullMillis(repo.LastSyncAttemptAt),
	)
	if err != nil {
		return wrapConflict(err, "create repository")
	}
	return nil
}

func (s *repositoryStore) UpdateMetadata(ctx context.Context, repo *model.Repository) error {
	repo.UpdatedAt = time.Now().UTC()
	res, err := s.queries.Exec(ctx,
		`UPDATE repositories SET external_id = ?, description = ?, language = ?, url = ?, stars = ?,
			last_activity_at = ?, sync_interval_ms = ?, updated_at = ?
		WHERE id = ?`,
		repo.ExternalID, repo.Description, repo.Language, repo.URL, repo.Stars,
		nullMillis(repo.LastActivityAt), repo.SyncInterval.Milliseconds(), toMillis(repo.UpdatedAt), repo.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	return requireOneRow(res)
}

func (s *repositoryStore) MarkSynced(ctx context.Context, id int64, syncedAt time.Time, cursor *time.Time) error {
	res, err := s.queries.Exec(ctx,
		`UPDATE repositories SET
			last_synced_at = ?,
			last_sync_attempt_at = ?,
			sync_cursor = COALESCE(?, sync_cursor),
			last_sync_error = '',
			open_issues = (SELECT COUNT(*) FROM issues WHERE repository_id = ? AND state = 'open'),
			closed_issues = (SELECT COUNT(*) FROM issues WHERE repository_id = ? AND state = 'closed'),
			updated_at = ?
		WHERE id = ?`,
		toMillis(syncedAt), toMillis(syncedAt), nullMillis(cursor), id, id, toMillis(syncedAt), id,
	)
	if err != nil {
		return fmt.Errorf("mark repository synced: %w", err)
	}
	return requireOneRow(res)
}

func (s *repositoryStore) RecordSyncError(ctx context.Context, id int64, msg string, attemptedAt time.Time) error {
	res, err := s.queries.Exec(ctx,
		`UPDATE repositories SET last_sync_error = ?, last_sync_attempt_at = ?, updated_at = ? WHERE id = ?`,
		msg, toMillis(attemptedAt), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("record sync error: %w", err)
	}
	return requireOneRow(res)
}

func (s *repositoryStore) List(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.queries.Query(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func scanRepository(row rowScanner) (*model.Repository, error) {
	var (
		repo         model.Repository
		provider     string
		lastActivity sql.NullInt64
		intervalMS   int64
		lastSynced   sql.NullInt64
		lastAttempt  sql.NullInt64
		cursor       sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&repo.ID, &provider, &repo.Owner, &repo.Name, &repo.ExternalID, &repo.Description,
		&repo.Language, &repo.URL, &repo.Stars, &repo.OpenIssues, &repo.ClosedIssues,
		&lastActivity, &intervalMS, &lastSynced, &cursor, &repo.LastSyncError, &createdAt, &updatedAt,
		&lastAttempt,
	)
	if err != nil {
		return nil, err
	}
	repo.Provider = model.Provider(provider)
	repo.LastActivityAt = fromNullMillis(lastActivity)
	repo.SyncInterval = time.Duration(intervalMS) * time.Millisecond
	repo.LastSyncedAt = fromNullMillis(lastSynced)
	repo.LastSyncAttemptAt = fromNullMillis(lastAttempt)
	repo.SyncCursor = fromNullMillis(cursor)
	repo.CreatedAt = fromMillis(createdAt)
	repo.UpdatedAt = fromMillis(updatedAt)
	return &repo, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
