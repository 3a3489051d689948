package providers

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is wrapped when a completion exceeds the provider deadline.
	ErrTimeout = errors.New("timeout")

	// ErrAuthExhausted is wrapped when the access token cannot be refreshed.
	ErrAuthExhausted = errors.New("access token refresh exhausted")
)

// CompletionError is returned by every Backend failure. Reason is a short
// user-facing description.
type CompletionError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *CompletionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// HTTPError is a non-200 response from a provider API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// wrapErr converts a request failure into a CompletionError. A deadline hit on
// reqCtx while parent is still live is reported as ErrTimeout.
func wrapErr(provider, reason string, parent, reqCtx context.Context, err error) error {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return err
	}
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded)) {
		return &CompletionError{Provider: provider, Reason: "Timeout", Err: ErrTimeout}
	}
	return &CompletionError{Provider: provider, Reason: reason, Err: err}
}
