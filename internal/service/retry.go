package service

import (
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/franchise/internal/domain"
)

// RetryPolicy bounds the read-modify-write loops used for optimistic writes.
// Attempts counts the first try.
type RetryPolicy struct {
	Attempts      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultRetryPolicy allows five attempts with exponential backoff and jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:      5,
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		JitterPercent: 30,
	}
}

// backoff returns a fresh backoff; go-retry backoffs are stateful.
func (p RetryPolicy) backoff() retry.Backoff {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Millisecond
	}
	b := retry.NewExponential(p.BaseDelay)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(p.Attempts-1), b)
}

// retryOnMismatch marks version mismatches retryable and passes every other
// error through unchanged.
func retryOnMismatch(err error) error {
	if errors.Is(err, domain.ErrVersionMismatch) {
		return retry.RetryableError(err)
	}
	return err
}
