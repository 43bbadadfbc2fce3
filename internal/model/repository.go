package model

import (
	"fmt"
	"time"
)

// Provider is the source-control host a repository is mirrored from.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

func (p Provider) Valid() bool {
	return p == ProviderGitHub || p == ProviderGitLab
}

// Repository is a mirrored repository. Metadata is only written by sync.
type Repository struct {
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	LastActivityAt    *time.Time    `json:"last_activity_at,omitempty"`
	LastSyncedAt      *time.Time    `json:"last_synced_at,omitempty"`
	LastSyncAttemptAt *time.Time    `json:"last_sync_attempt_at,omitempty"`
	SyncCursor        *time.Time    `json:"-"`
	Provider          Provider      `json:"provider"`
	Owner             string        `json:"owner"`
	Name              string        `json:"name"`
	ExternalID        string        `json:"external_id"`
	Description       string        `json:"description"`
	Language          string        `json:"language"`
	URL               string        `json:"url"`
	LastSyncError     string        `json:"last_sync_error,omitempty"`
	SyncInterval      time.Duration `json:"sync_interval"`
	ID                int64         `json:"id"`
	Stars             int64         `json:"stars"`
	OpenIssues        int64         `json:"open_issues"`
	ClosedIssues      int64         `json:"closed_issues"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// SyncDue reports whether the repository's sync interval has elapsed at now,
// counting from the last attempt so a failing repository waits a full
// interval too.
func (r Repository) SyncDue(now time.Time) bool {
	last := r.LastSyncedAt
	if r.LastSyncAttemptAt != nil && (last == nil || r.LastSyncAttemptAt.After(*last)) {
		last = r.LastSyncAttemptAt
	}
	if last == nil {
		return true
	}
	return !now.Before(last.Add(r.SyncInterval))
}

// RepositoryRef identifies a repository on its provider.
type RepositoryRef struct {
	Provider Provider `json:"provider"`
	Owner    string   `json:"owner"`
	Name     string   `json:"name"`
}

func (r RepositoryRef) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

func (r Repository) Ref() RepositoryRef {
	return RepositoryRef{Provider: r.Provider, Owner: r.Owner, Name: r.Name}
}
