package store

import (
	"context"
	"database/sql"
	"fmt"

	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/model"
)

type annotationStore struct {
	queries *db.Queries
}

func newAnnotationStore(queries *db.Queries) AnnotationStore {
	return &annotationStore{queries: queries}
}

const annotationVersionColumns = `v.issue_id, v.version, v.summary_group, v.fix_group, v.explain_group,
	v.related_group, v.kind, v.updated_by_task_id, v.created_at`

// Get reads the head pointer and the version it names in one statement.
func (s *annotationStore) Get(ctx context.Context, issueID int64) (*model.Annotation, error) {
	row := s.queries.QueryRow(ctx,
		`SELECT `+annotationVersionColumns+`
		FROM annotations a
		JOIN annotation_versions v ON v.issue_id = a.issue_id AND v.version = a.current_version
		WHERE a.issue_id = ?`, issueID)
	ann, err := scanAnnotation(row)
	if err != nil {
		return nil, wrapNotFound(err, "get annotation")
	}
	return ann, nil
}

func (s *annotationStore) History(ctx context.Context, issueID int64) ([]model.Annotation, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT `+annotationVersionColumns+`
		FROM annotation_versions v WHERE v.issue_id = ? ORDER BY v.version DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list annotation history: %w", err)
	}
	defer rows.Close()

	var history []model.Annotation
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		history = append(history, *ann)
	}
	return history, rows.Err()
}

func (s *annotationStore) ListCurrentByRepository(ctx context.Context, repositoryID int64) (map[int64]*model.Annotation, error) {
	rows, err := s.queries.Query(ctx,
		`SELECT `+annotationVersionColumns+`
		FROM annotations a
		JOIN annotation_versions v ON v.issue_id = a.issue_id AND v.version = a.current_version
		JOIN issues i ON i.id = a.issue_id
		WHERE i.repository_id = ?`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*model.Annotation)
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out[ann.IssueID] = ann
	}
	return out, rows.Err()
}

func (s *annotationStore) InsertVersion(ctx context.Context, ann *model.Annotation) error {
	summary, err := marshalNullable(ann.Summary)
	if err != nil {
		return err
	}
	fix, err := marshalNullable(ann.Fix)
	if err != nil {
		return err
	}
	explain, err := marshalNullable(ann.Explain)
	if err != nil {
		return err
	}
	related, err := marshalNullable(ann.Related)
	if err != nil {
		return err
	}

	var taskID sql.NullInt64
	if ann.UpdatedByTaskID != 0 {
		taskID = sql.NullInt64{Int64: ann.UpdatedByTaskID, Valid: true}
	}

	_, err = s.queries.Exec(ctx,
		`INSERT INTO annotation_versions
			(issue_id, version, summary_group, fix_group, explain_group, related_group, kind, updated_by_task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ann.IssueID, ann.Version, summary, fix, explain, related, string(ann.Kind), taskID, toMillis(ann.UpdatedAt),
	)
	if err != nil {
		return wrapConflict(err, "insert annotation version")
	}
	return nil
}

func (s *annotationStore) SwapHead(ctx context.Context, ann *model.Annotation, expected int64) (bool, error) {
	tags, err := marshalStrings(ann.Tags())
	if err != nil {
		return false, err
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.queries.Exec(ctx,
			`INSERT INTO annotations (issue_id, current_version, priority, tags, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (issue_id) DO NOTHING`,
			ann.IssueID, ann.Version, string(ann.Priority()), tags, toMillis(ann.UpdatedAt))
	} else {
		res, err = s.queries.Exec(ctx,
			`UPDATE annotations SET current_version = ?, priority = ?, tags = ?, updated_at = ?
			WHERE issue_id = ? AND current_version = ?`,
			ann.Version, string(ann.Priority()), tags, toMillis(ann.UpdatedAt), ann.IssueID, expected)
	}
	if err != nil {
		return false, fmt.Errorf("swap annotation head: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanAnnotation(row rowScanner) (*model.Annotation, error) {
	var (
		ann       model.Annotation
		summary   []byte
		fix       []byte
		explain   []byte
		related   []byte
		kind      string
		taskID    sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&ann.IssueID, &ann.Version, &summary, &fix, &explain, &related, &kind, &taskID, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if ann.Summary, err = unmarshalNullable[model.SummaryGroup](summary); err != nil {
		return nil, fmt.Errorf("decode summary group: %w", err)
	}
	if ann.Fix, err = unmarshalNullable[model.FixGroup](fix); err != nil {
		return nil, fmt.Errorf("decode fix group: %w", err)
	}
	if ann.Explain, err = unmarshalNullable[model.ExplainGroup](explain); err != nil {
		return nil, fmt.Errorf("decode explain group: %w", err)
	}
	if ann.Related, err = unmarshalNullable[model.RelatedGroup](related); err != nil {
		return nil, fmt.Errorf("decode related group: %w", err)
	}
	ann.Kind = model.TaskKind(kind)
	if taskID.Valid {
		ann.UpdatedByTaskID = taskID.Int64
	}
	ann.UpdatedAt = fromMillis(createdAt)
	return &ann, nil
}
