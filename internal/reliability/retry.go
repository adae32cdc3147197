// Package reliability provides backoff and circuit-breaking
// primitives. The runner uses CircuitBreaker to limit respawns of an
// agent that keeps crashing.
package reliability

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	chorerrors "github.com/chorusrt/chorus/internal/errors"
)

func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0.5
	}
	n := binary.BigEndian.Uint64(b[:]) >> 11 // 53 bits
	return float64(n) / float64(uint64(1)<<53)
}

// RetryStrategy implements exponential backoff with jitter for retrying
// failed operations.
type RetryStrategy struct {
	// MaxRetries is the maximum number of retry attempts after the initial execution.
	MaxRetries int

	// BaseDelay is the initial delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retry attempts.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier (typically 2.0).
	Multiplier float64
}

// DefaultRetryStrategy matches the reconnect cadence described in
// spec §4.2: start at 1s, double up to a 30s ceiling.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxRetries: 0, // 0 means retry forever; callers loop with ctx cancellation
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Execute runs fn with automatic retry on retriable errors. MaxRetries
// of 0 retries forever until ctx is cancelled.
func (s *RetryStrategy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := s.BaseDelay

	for attempt := 0; s.MaxRetries <= 0 || attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			jitterFactor := 0.75 + cryptoRandFloat64()*0.5
			jitter := time.Duration(float64(delay) * jitterFactor)

			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}

			delay = time.Duration(float64(delay) * s.Multiplier)
			if delay > s.MaxDelay {
				delay = s.MaxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		if !isRetriable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", s.MaxRetries, lastErr)
}

// isRetriable classifies transport and protocol failures. Context
// cancellation is not retried; chorus errors are retried only when
// marked retryable; every other error, including a deadline exceeded,
// is retried.
func isRetriable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var chorusErr *chorerrors.Error
	if errors.As(err, &chorusErr) {
		return chorusErr.IsRetryable()
	}

	// Unclassified errors from net.Conn (refused, reset, EOF) are
	// assumed transient: the router process may simply not be up yet.
	return true
}
