package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2"
)

const (
	// DefaultAttempts is the total number of calls made before a
	// conflict is returned to the caller.
	DefaultAttempts = 10
	// DefaultDelay is the pause between two attempts.
	DefaultDelay = time.Second
)

// IsConflict reports whether err is an HTTP 409 reply from the service.
func IsConflict(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusConflict)
}

// Retrier repeats calls that fail with a write conflict.
type Retrier struct {
	Attempts   uint
	Delay      time.Duration
	IsConflict func(error) bool
	Logger     logr.Logger
	// Operation labels the retry metrics.
	Operation string
}

// Default returns a Retrier with the standard bound and delay.
func Default() Retrier {
	return Retrier{
		Attempts:   DefaultAttempts,
		Delay:      DefaultDelay,
		IsConflict: IsConflict,
		Logger:     logr.Discard(),
	}
}

// OnConflict calls fn with the default Retrier.
func OnConflict[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return Do(ctx, Default(), fn)
}

// Do calls fn until it succeeds, fails with something other than a
// conflict, or the attempts run out. The error from the last attempt is
// returned as is.
func Do[T any](ctx context.Context, r Retrier, fn func(context.Context) (T, error)) (T, error) {
	isConflict := r.IsConflict
	if isConflict == nil {
		isConflict = IsConflict
	}
	attempts := r.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	log := r.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isConflict(err) {
			return result, backoff.Permanent(err)
		}
		conflictRetries.WithLabelValues(r.Operation).Inc()
		log.Info("conflict, retrying", "attempt", attempt, "maxAttempts", attempts, "error", err.Error())
		return result, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Delay)),
		backoff.WithMaxTries(attempts))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if isConflict(err) {
			conflictExhausted.WithLabelValues(r.Operation).Inc()
		}
	}
	return result, err
}
