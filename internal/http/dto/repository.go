package dto

import (
	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

type RegisterRepositoryRequest struct {
	Provider string `json:"provider" binding:"required"`
	Owner    string `json:"owner" binding:"required"`
	Name     string `json:"name" binding:"required"`
	// SyncInterval is a Go duration such as "15m". Empty means the server default.
	SyncInterval string `json:"sync_interval,omitempty"`
}

type RegisterRepositoryResponse struct {
	Repository *model.Repository   `json:"repository"`
	Sync       *service.SyncResult `json:"sync,omitempty"`
	SyncError  string              `json:"sync_error,omitempty"`
	Created    bool                `json:"created"`
}

type ListRepositoriesResponse struct {
	Repositories []model.Repository `json:"repositories"`
}
