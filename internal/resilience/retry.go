// Package resilience wraps external-collaborator calls (Graph, LLM,
// embedding) with bounded exponential backoff for transient transport
// failures: network blips are retried a few times in-process before the
// caller's own fallback (abort the folder, proceed with an empty
// analysis, ...) takes over.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxRetries bounds in-process retry attempts; beyond this the error
// propagates to the caller's own failure-handling policy.
const maxRetries = 3

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// Retry runs op with exponential backoff, retrying up to maxRetries times.
// Wrap an error in backoff.Permanent inside op to stop retrying immediately
// and propagate that error unwrapped — used for errors that signal a
// different recovery path entirely rather than a transient failure (a
// delta-token-expired 410, for instance).
func Retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), maxRetries), ctx)
	err := backoff.Retry(op, b)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return errors.Unwrap(perm)
	}
	return err
}

// Permanent marks err as non-retryable, stopping Retry on the first
// attempt and returning err unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
