package wsfe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStrategy_CalculateBackoff(t *testing.T) {
	s := &RetryStrategy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.CalculateBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryStrategy_JitterStaysInBounds(t *testing.T) {
	s := NewRetryStrategy()
	for i := 0; i < 100; i++ {
		d := s.CalculateBackoff(3)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestRetryStrategy_Classification(t *testing.T) {
	s := NewRetryStrategy()

	assert.True(t, s.IsRetryableStatusCode(500))
	assert.True(t, s.IsRetryableStatusCode(503))
	assert.True(t, s.IsRetryableStatusCode(429))
	assert.False(t, s.IsRetryableStatusCode(400))
	assert.False(t, s.IsRetryableStatusCode(404))

	assert.False(t, s.IsTemporaryError(nil))
	assert.False(t, s.IsTemporaryError(context.Canceled))
	assert.False(t, s.IsTemporaryError(errors.New("boom")))
	assert.True(t, s.IsTemporaryError(context.DeadlineExceeded))
	assert.True(t, s.IsTemporaryError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}

func TestServiceError_Is(t *testing.T) {
	notFound := &ServiceError{Op: OpVoucher, Errors: []ServiceMessage{{Code: 602, Msg: "Sin Resultados"}}}
	other := &ServiceError{Op: OpVoucher, Errors: []ServiceMessage{{Code: 600, Msg: "ValidacionDeToken"}}}

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(other))
	assert.ErrorIs(t, other, ErrService)
	assert.Contains(t, other.Error(), "[600] ValidacionDeToken")
}
