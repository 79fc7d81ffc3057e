package ground

import (
	"context"
	"errors"
)

// ErrNotAccepted reports that every attempt completed without the accept
// predicate passing. The last result is returned alongside it so callers
// can still apply a softer acceptance floor.
var ErrNotAccepted = errors.New("no attempt was accepted")

// WithRetry runs fn up to maxAttempts times and returns the first result
// accept approves, together with the number of attempts spent. Attempt
// numbers start at 1 so fn can harden its instructions on later tries.
// An error from fn consumes the attempt; the loop never grows beyond
// maxAttempts.
func WithRetry[T any](ctx context.Context, maxAttempts int, fn func(ctx context.Context, attempt int) (T, error), accept func(T) bool) (T, int, error) {
	var zero, last T
	var lastErr error
	haveResult := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := fn(ctx, attempt)
		if err != nil {
			lastErr = err
			continue
		}
		if accept(result) {
			return result, attempt, nil
		}
		last = result
		haveResult = true
	}

	if !haveResult {
		if lastErr != nil {
			return zero, maxAttempts, lastErr
		}
		return zero, maxAttempts, ErrNotAccepted
	}
	return last, maxAttempts, ErrNotAccepted
}
