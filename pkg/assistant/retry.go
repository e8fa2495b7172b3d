package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultMaxAttempts is the number of attempts made for a turn, including
// the first one.
const DefaultMaxAttempts = 3

// DefaultBackoff is the pause between attempts.
var DefaultBackoff = gax.Backoff{
	Initial:    100 * time.Millisecond,
	Max:        time.Second,
	Multiplier: 2,
}

// IsUnavailable reports whether err is a gRPC Unavailable status, the only
// failure a turn is retried for.
func IsUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// permanentError marks a failure that must not be retried whatever its code.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// attemptRetryer wraps a predicate retryer with a cap on the total number of
// attempts.
type attemptRetryer struct {
	inner       gax.Retryer
	maxAttempts int
	attempts    int
}

func (r *attemptRetryer) Retry(err error) (time.Duration, bool) {
	r.attempts++
	if r.attempts >= r.maxAttempts {
		return 0, false
	}
	return r.inner.Retry(err)
}

// RetryPolicy retries a call while shouldRetry accepts its error, up to
// MaxAttempts calls in total. The last error is returned on exhaustion.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     gax.Backoff
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy retries Unavailable failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		ShouldRetry: IsUnavailable,
	}
}

// Do runs call until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, call func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsUnavailable
	}

	retryable := func(err error) bool {
		var perm *permanentError
		return !errors.As(err, &perm) && shouldRetry(err)
	}

	var attempts int
	retryer := func() gax.Retryer {
		return &attemptRetryer{
			inner:       gax.OnErrorFunc(p.Backoff, retryable),
			maxAttempts: maxAttempts,
		}
	}
	err := gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		attempts++
		return call(ctx)
	}, gax.WithRetry(retryer))
	return attempts, err
}
