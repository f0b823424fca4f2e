package wsfe

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// RetryStrategy defines exponential backoff for transport failures.
// Every WSFE operation used here is a read, so repeating one is safe.
type RetryStrategy struct {
	MaxAttempts int           // Default: 3
	BaseBackoff time.Duration // Default: 500ms
	MaxBackoff  time.Duration // Default: 4 seconds
	Jitter      bool          // Default: true
}

// NewRetryStrategy creates a RetryStrategy with defaults
func NewRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
		Jitter:      true,
	}
}

// NoRetry performs each call exactly once
func NoRetry() *RetryStrategy {
	return &RetryStrategy{MaxAttempts: 1}
}

// CalculateBackoff returns the wait before the given retry attempt:
// BaseBackoff, 2x, 4x ... capped at MaxBackoff
func (s *RetryStrategy) CalculateBackoff(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseBackoff
	}

	multiplier := math.Pow(2, float64(attemptNumber-1))
	backoff := time.Duration(multiplier) * s.BaseBackoff
	if s.MaxBackoff > 0 && backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}

	if s.Jitter {
		// ±10%
		jitterRange := backoff / 10
		if jitterRange > 0 {
			jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
			backoff += jitter
			if backoff < s.BaseBackoff {
				backoff = s.BaseBackoff
			}
		}
	}
	return backoff
}

// IsRetryableStatusCode reports whether an HTTP status warrants a retry
func (s *RetryStrategy) IsRetryableStatusCode(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		return statusCode == http.StatusTooManyRequests
	}
	return statusCode >= 500 && statusCode < 600
}

// IsTemporaryError reports whether a request error is worth repeating
func (s *RetryStrategy) IsTemporaryError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (s *RetryStrategy) attempts() int {
	if s == nil || s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

func (s *RetryStrategy) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.CalculateBackoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
