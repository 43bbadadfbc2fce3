package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
)

func (s IssueState) Valid() bool {
	return s == IssueStateOpen || s == IssueStateClosed
}

type Comment struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ExternalID string    `json:"external_id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	ID         int64     `json:"id"`
}

// Issue mirrors a provider issue. CreatedAt/UpdatedAt are the provider's
// timestamps; SyncedAt is when this service last wrote the row.
type Issue struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SyncedAt     time.Time  `json:"synced_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	State        IssueState `json:"state"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Author       string     `json:"author"`
	URL          string     `json:"url"`
	ContentHash  string     `json:"-"`
	Assignees    []string   `json:"assignees"`
	Labels       []string   `json:"labels"`
	Comments     []Comment  `json:"comments,omitempty"`
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository_id"`
	Number       int64      `json:"number"`
	CommentCount int64      `json:"comment_count"`
}

// HasLabel is case-insensitive.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func (i Issue) HasAssignee(login string) bool {
	for _, a := range i.Assignees {
		if strings.EqualFold(a, login) {
			return true
		}
	}
	return false
}

// ComputeContentHash hashes the provider-owned fields that matter for
// change detection. Label and assignee order is ignored.
func (i Issue) ComputeContentHash() string {
	labels := append([]string(nil), i.Labels...)
	sort.Strings(labels)
	assignees := append([]string(nil), i.Assignees...)
	sort.Strings(assignees)

	h := sha256.New()
	for _, part := range []string{
		i.Title,
		i.Body,
		string(i.State),
		i.Author,
		strings.Join(labels, "\x1f"),
		strings.Join(assignees, "\x1f"),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
