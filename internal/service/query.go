package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
)

const (
	DefaultPerPage    = 25
	MaxPerPage        = 100
	recentTasksLimit  = 20
	defaultTasksLimit = 100
	maxTasksLimit     = 500
)

// IssueFilter narrows ListIssues. Zero values match everything; Labels must
// all be present.
type IssueFilter struct {
	States     []model.IssueState
	Priorities []model.Priority
	Labels     []string
	Query      string
	Assignee   string
}

type IssueSortField string

const (
	SortUpdated  IssueSortField = "updated"
	SortCreated  IssueSortField = "created"
	SortPriority IssueSortField = "priority"
)

func (f IssueSortField) Valid() bool {
	return f == SortUpdated || f == SortCreated || f == SortPriority
}

// IssueSort orders ListIssues. Ascending applies to the time sorts only;
// priority is always highest first.
type IssueSort struct {
	Field     IssueSortField
	Ascending bool
}

type Page struct {
	Page    int
	PerPage int
}

type IssuePage struct {
	Items   []model.IssueView `json:"items"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
	HasMore bool              `json:"has_more"`
}

type QueryService interface {
	ListIssues(ctx context.Context, repositoryID int64, filter IssueFilter, sort IssueSort, page Page) (*IssuePage, error)
	GetIssueDetail(ctx context.Context, issueID int64) (*model.IssueDetail, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	// ClearCompleted deletes completed tasks, optionally of one repository.
	// Pending, running and failed tasks are kept.
	ClearCompleted(ctx context.Context, repositoryID *int64) (int64, error)
	// PurgeTerminal deletes completed and failed tasks older than olderThan.
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

type queryService struct {
	stores *store.Stores
	now    func() time.Time
}

func NewQueryService(stores *store.Stores) QueryService {
	return &queryService{
		stores: stores,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ListIssues joins every issue of the repository with its current
// annotation, then filters, sorts and pages in memory. The set never
// depends on the sort.
func (s *queryService) ListIssues(ctx context.Context, repositoryID int64, filter IssueFilter, order IssueSort, page Page) (*IssuePage, error) {
	if order.Field == "" {
		order.Field = SortUpdated
	}
	if !order.Field.Valid() {
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, order.Field)
	}
	page = normalizePage(page)

	if _, err := s.stores.Repositories().GetByID(ctx, repositoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	issues, err := s.stores.Issues().ListByRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	annotations, err := s.stores.Annotations().ListCurrentByRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}

	views := make([]model.IssueView, 0, len(issues))
	for _, issue := range issues {
		view := model.NewIssueView(issue, annotations[issue.ID])
		if filter.matches(view) {
			views = append(views, view)
		}
	}

	sortIssueViews(views, order)

	total := len(views)
	start := min((page.Page-1)*page.PerPage, total)
	end := min(start+page.PerPage, total)

	return &IssuePage{
		Items:   views[start:end],
		Total:   total,
		Page:    page.Page,
		PerPage: page.PerPage,
		HasMore: end < total,
	}, nil
}

func normalizePage(p Page) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (f IssueFilter) matches(v model.IssueView) bool {
	if len(f.States) > 0 && !contains(f.States, v.State) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, v.Priority) {
		return false
	}
	for _, label := range f.Labels {
		if !v.HasLabel(label) {
			return false
		}
	}
	if f.Assignee != "" && !v.HasAssignee(f.Assignee) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(v.Title), q) && !strings.Contains(strings.ToLower(v.Body), q) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// sortIssueViews breaks ties by issue number (newest first) so pages are stable.
func sortIssueViews(views []model.IssueView, order IssueSort) {
	byTime := func(a, b time.Time) int {
		c := a.Compare(b)
		if !order.Ascending {
			c = -c
		}
		return c
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		var c int
		switch order.Field {
		case SortCreated:
			c = byTime(a.CreatedAt, b.CreatedAt)
		case SortPriority:
			c = b.Priority.Rank() - a.Priority.Rank()
			if c == 0 {
				c = b.UpdatedAt.Compare(a.UpdatedAt)
			}
		default:
			c = byTime(a.UpdatedAt, b.UpdatedAt)
		}
		if c != 0 {
			return c < 0
		}
		return a.Number > b.Number
	})
}

func (s *queryService) GetIssueDetail(ctx context.Context, issueID int64) (*model.IssueDetail, error) {
	issue, err := s.stores.Issues().GetByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("loading issue: %w", err)
	}

	issue.Comments, err = s.stores.Issues().ListComments(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("loading comments: %w", err)
	}

	ann, err := s.stores.Annotations().Get(ctx, issueID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading annotation: %w", err)
	}

	repo, err := s.stores.Repositories().GetByID(ctx, issue.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	tasks, err := s.stores.Tasks().List(ctx, store.TaskFilter{IssueID: &issueID, Limit: recentTasksLimit})
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	return &model.IssueDetail{
		Issue:       *issue,
		Annotation:  ann,
		Repository:  *repo,
		RecentTasks: tasks,
	}, nil
}

func (s *queryService) ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
		}
	}
	for _, k := range filter.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTaskKind, k)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultTasksLimit
	}
	if filter.Limit > maxTasksLimit {
		filter.Limit = maxTasksLimit
	}

	tasks, err := s.stores.Tasks().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

func (s *queryService) ClearCompleted(ctx context.Context, repositoryID *int64) (int64, error) {
	if repositoryID != nil {
		if _, err := s.stores.Repositories().GetByID(ctx, *repositoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, ErrRepositoryNotFound
			}
			return 0, fmt.Errorf("loading repository: %w", err)
		}
	}

	n, err := s.stores.Tasks().DeleteCompleted(ctx, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("clearing completed tasks: %w", err)
	}
	return n, nil
}

func (s *queryService) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: age must not be negative", ErrInvalidInput)
	}
	n, err := s.stores.Tasks().DeleteTerminalBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purging terminal tasks: %w", err)
	}
	return n, nil
}
