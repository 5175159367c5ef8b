package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripTransient(t *testing.T, cb *CircuitBreaker, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return NewTransientError(errors.New("tdx unreachable"), 503)
		})
	}
}

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	tripTransient(t, cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())

	tripTransient(t, cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuit_PermanentErrorDoesNotTrip(t *testing.T) {
	// A 4xx means the service answered; only transient failures count
	// toward the threshold under the default check.
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return NewPermanentError(errors.New("bad request"), 400)
		})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	tripTransient(t, cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))

	tripTransient(t, cb, 2)
	assert.Equal(t, CircuitClosed, cb.State(), "counter restarted after the success")
}

func TestCircuit_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	tripTransient(t, cb, 1)
	require.Equal(t, CircuitOpen, cb.State())

	// After the reset timeout a trial request is admitted; its success
	// closes the circuit.
	now = now.Add(11 * time.Second)
	require.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	tripTransient(t, cb, 1)
	now = now.Add(11 * time.Second)
	tripTransient(t, cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuit_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	tripTransient(t, cb, 1)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestCircuit_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	tripTransient(t, cb, 1)
	cb.Reset()
	assert.Equal(t, []string{"closed>open", "open>closed"}, transitions)
}

func TestCircuit_ShouldTripOverride(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return err != nil },
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return NewPermanentError(errors.New("bad request"), 400)
	})
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State(), "override counts every error")
}
