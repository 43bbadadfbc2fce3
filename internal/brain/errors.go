package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"issuemind.app/triage/common/llm"
)

var (
	ErrBackendTimeout   = errors.New("ai backend timed out")
	ErrBackendError     = errors.New("ai backend error")
	ErrBackendPermanent = errors.New("ai backend permanent error")
	ErrMalformedIssue   = errors.New("malformed issue content")
)

// ClassifyError wraps a raw backend error with one of the sentinels above.
// Already classified errors and context.Canceled pass through unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendTimeout) || errors.Is(err, ErrBackendError) ||
		errors.Is(err, ErrBackendPermanent) || errors.Is(err, ErrMalformedIssue) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrBackendTimeout, err)
	}
	if errors.Is(err, llm.ErrMalformedResponse) {
		return fmt.Errorf("%w: %w", ErrBackendPermanent, err)
	}

	code := llm.StatusCode(err)
	switch {
	case code == 0:
		return fmt.Errorf("%w: %w", ErrBackendError, err)
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", ErrBackendTimeout, err)
	case code == http.StatusTooManyRequests, code == http.StatusConflict, code >= 500:
		return fmt.Errorf("%w: %w", ErrBackendError, err)
	default:
		return fmt.Errorf("%w: %w", ErrBackendPermanent, err)
	}
}

// IsRetryable reports whether a classified error is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendTimeout) || errors.Is(err, ErrBackendError)
}

// FailureReason is the human readable reason stored on a failed task.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedIssue):
		return "issue has no title or description to analyse"
	case errors.Is(err, ErrBackendTimeout):
		return "AI backend timed out"
	case errors.Is(err, ErrBackendPermanent):
		return "AI backend rejected the request"
	case errors.Is(err, ErrBackendError):
		return "AI backend unavailable"
	default:
		return "internal error"
	}
}
