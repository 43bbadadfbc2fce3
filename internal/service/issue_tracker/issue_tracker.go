package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"issuemind.app/triage/internal/model"
)

var (
	// ErrProviderUnavailable covers transport failures, 5xx, 429 and rate
	// limiting. Callers may retry.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderAuth means the configured credentials were rejected. Not retried.
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrProviderNotFound means the repository does not exist or is not visible.
	ErrProviderNotFound = errors.New("repository not found on provider")

	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// RepositoryMetadata is what a provider reports about a repository.
type RepositoryMetadata struct {
	LastActivityAt *time.Time
	ExternalID     string
	Description    string
	Language       string
	URL            string
	Stars          int64
}

// Provider is the read-only contract to a source-control host.
type Provider interface {
	GetRepository(ctx context.Context, ref model.RepositoryRef) (*RepositoryMetadata, error)
	// ListIssues returns issues in every state updated at or after since
	// (all issues when since is nil), walking every page.
	ListIssues(ctx context.Context, ref model.RepositoryRef, since *time.Time) ([]model.Issue, error)
	ListComments(ctx context.Context, ref model.RepositoryRef, number int64) ([]model.Comment, error)
}

// Registry selects a provider client by Repository.Provider.
type Registry struct {
	providers map[model.Provider]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[model.Provider]Provider)}
}

func (r *Registry) Register(kind model.Provider, p Provider) {
	r.providers[kind] = p
}

func (r *Registry) Get(kind model.Provider) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return p, nil
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// classifyStatus maps an HTTP status from a provider to a sentinel.
func classifyStatus(status int, msg string, err error) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%s: %w: %v", msg, ErrProviderAuth, err)
	case status == 404:
		return fmt.Errorf("%s: %w: %v", msg, ErrProviderNotFound, err)
	default:
		// 5xx, 429 and anything unexpected are treated as transient.
		return fmt.Errorf("%s: %w: %v", msg, ErrProviderUnavailable, err)
	}
}

// classifyTransport handles errors that never produced an HTTP response.
// Cancellation by the caller is passed through untouched.
func classifyTransport(msg string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrProviderUnavailable, err)
}
