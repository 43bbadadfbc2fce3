package service

import (
	"issuemind.app/triage/core/config"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/service/issue_tracker"
	"issuemind.app/triage/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	producer queue.Producer
	status   queue.StatusPublisher
	sync     SyncService
	syncCfg  config.SyncConfig
}

func NewServices(
	stores *store.Stores,
	txRunner TxRunner,
	providers *issue_tracker.Registry,
	producer queue.Producer,
	status queue.StatusPublisher,
	syncCfg config.SyncConfig,
) *Services {
	// One instance so every caller shares the in-flight sync table.
	syncSvc := NewSyncService(stores, txRunner, providers, syncCfg)

	return &Services{
		stores:   stores,
		txRunner: txRunner,
		producer: producer,
		status:   status,
		sync:     syncSvc,
		syncCfg:  syncCfg,
	}
}

func (s *Services) Sync() SyncService {
	return s.sync
}

func (s *Services) Repositories() RepositoryService {
	return NewRepositoryService(s.stores, s.sync, s.syncCfg.DefaultInterval)
}

func (s *Services) Annotations() AnnotationService {
	return NewAnnotationService(s.stores, s.txRunner)
}

func (s *Services) Tasks() TaskService {
	return NewTaskService(s.stores, s.producer, s.status)
}

func (s *Services) Query() QueryService {
	return NewQueryService(s.stores)
}
