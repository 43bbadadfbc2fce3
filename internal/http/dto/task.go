package dto

import "issuemind.app/triage/internal/model"

type EnqueueTaskRequest struct {
	Kind string `json:"kind" binding:"required"`
}

type ListTasksResponse struct {
	Tasks []model.Task `json:"tasks"`
}

type PurgeTasksRequest struct {
	// OlderThan is a Go duration; terminal tasks last updated before now-OlderThan are removed.
	OlderThan string `json:"older_than" binding:"required"`
}

type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}
