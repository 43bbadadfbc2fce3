package service

import (
	"context"

	"issuemind.app/triage/core/db"
	"issuemind.app/triage/internal/store"
)

// StoreProvider exposes the stores bound to one transaction.
type StoreProvider interface {
	Repositories() store.RepositoryStore
	Issues() store.IssueStore
	Annotations() store.AnnotationStore
	Tasks() store.TaskStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q *db.Queries) error {
		return fn(store.NewStores(q))
	})
}
