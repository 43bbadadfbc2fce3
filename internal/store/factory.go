package store

import (
	"issuemind.app/triage/core/db"
)

type Stores struct {
	queries *db.Queries
}

func NewStores(queries *db.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Repositories() RepositoryStore {
	return newRepositoryStore(s.queries)
}

func (s *Stores) Issues() IssueStore {
	return newIssueStore(s.queries)
}

func (s *Stores) Annotations() AnnotationStore {
	return newAnnotationStore(s.queries)
}

func (s *Stores) Tasks() TaskStore {
	return newTaskStore(s.queries)
}
