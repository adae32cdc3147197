package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 3, openErr.Failures)
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, SuccessThreshold: 1})
	cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCountWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Minute})
	cb.Execute(func() error { return errors.New("boom") })
	cb.Execute(func() error { return nil })
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreakerResetReturnsToClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute})
	cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreakerMetricsCountCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 5, Timeout: time.Minute})
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errors.New("boom") })

	m := cb.Metrics()
	assert.Equal(t, 2, m.TotalCalls)
	assert.Equal(t, 1, m.SuccessCount)
	assert.Equal(t, 1, m.FailureCount)
}

func TestCircuitBreakerOnStateChangeCallback(t *testing.T) {
	var changes []StateChangeEvent
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(e StateChangeEvent) {
			changes = append(changes, e)
		},
	})
	cb.Execute(func() error { return errors.New("boom") })

	require.Len(t, changes, 1)
	assert.Equal(t, CircuitClosed, changes[0].From)
	assert.Equal(t, CircuitOpen, changes[0].To)
}
