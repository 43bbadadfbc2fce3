package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrMalformedResponse is returned when the model reply does not decode
// into the requested type.
var ErrMalformedResponse = errors.New("malformed model response")

// StatusCode returns the HTTP status carried by an SDK API error, or 0 when
// err did not come from an API response (network failure, decode failure).
func StatusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether a request that failed with err may succeed on
// a later attempt. Rate limits, server errors and network errors are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	code := StatusCode(err)
	switch {
	case code == 0:
		return true
	case code == 408, code == 409, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
