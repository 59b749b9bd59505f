package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

// RetryPolicy bounds retries of collaborator calls that fail with transient
// I/O errors. Not-found answers are final and never retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	// Attempts are bounded by MaxRetries, not by wall time.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns a permanent error, the retries are
// exhausted, or ctx is done. store.ErrNotFound is treated as permanent.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var ce *CoreError
		if errors.Is(err, store.ErrNotFound) || errors.As(err, &ce) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
