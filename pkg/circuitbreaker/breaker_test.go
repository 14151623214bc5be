package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test-open",
		Timeout:     time.Hour,
		ReadyToTrip: ConsecutiveFailures(3),
	})
	assert.Equal(t, StateClosed, cb.State())

	trip(cb, 2)
	assert.Equal(t, StateClosed, cb.State())
	trip(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test-reset", ReadyToTrip: ConsecutiveFailures(2)})

	trip(cb, 1)
	require.NoError(t, cb.Execute(func() error { return nil }))
	trip(cb, 1)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker(Settings{
		Name:        "test-recovery",
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(1),
		OnStateChange: func(_ string, _ State, to State) {
			transitions = append(transitions, to)
		},
	})

	trip(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test-reopen",
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(5),
	})

	trip(cb, 5)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	trip(cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenLimitsRequests(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test-limit",
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(1),
	})
	trip(cb, 1)
	time.Sleep(40 * time.Millisecond)

	inner := cb.Execute(func() error {
		return cb.Execute(func() error { return nil })
	})
	assert.ErrorIs(t, inner, ErrTooManyRequests)
}

func TestCallReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test-call"})

	v, err := Call(cb, func() (string, error) { return "feed", nil })
	require.NoError(t, err)
	assert.Equal(t, "feed", v)

	_, err = Call(cb, func() ([]byte, error) { return nil, errBackend })
	assert.ErrorIs(t, err, errBackend)
	assert.False(t, IsRejection(err))
}

func TestIsSuccessfulOverride(t *testing.T) {
	errNotFound := errors.New("not found")
	cb := NewCircuitBreaker(Settings{
		Name:        "test-success",
		ReadyToTrip: ConsecutiveFailures(1),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
	})

	err := cb.Execute(func() error { return errNotFound })
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaultSettings(t *testing.T) {
	st := DefaultSettings("s3")
	assert.Equal(t, "s3", st.Name)
	assert.False(t, st.ReadyToTrip(Counts{Requests: 2, TotalFailures: 2}))
	assert.True(t, st.ReadyToTrip(Counts{Requests: 5, TotalFailures: 3}))
}
