package ingest

import (
	"context"
	"errors"
	"time"
)

// Backoff configures Retry.
type Backoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoff is used for summarization calls when nothing is configured.
var DefaultBackoff = Backoff{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls op until it succeeds, returns a permanent error, or MaxAttempts
// is reached. The delay starts at InitialDelay and doubles after every failed
// attempt, capped at MaxDelay. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, op func(context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := b.InitialDelay

	for attempt := 1; ; attempt++ {
		var v T
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) || attempt >= attempts {
			return zero, err
		}

		sleep := wait
		if b.MaxDelay > 0 && sleep > b.MaxDelay {
			sleep = b.MaxDelay
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		wait *= 2
		if b.MaxDelay > 0 && wait > b.MaxDelay {
			wait = b.MaxDelay
		}
	}
}
