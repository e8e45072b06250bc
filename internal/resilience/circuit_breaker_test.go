package resilience_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/resilience"
)

func TestCircuitBreakerOpensOnFailureRateAboveThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker(time.Minute, 1, 1, 0.5, time.Hour, 1)
	require.True(t, cb.Allow())

	cb.RecordResult(false)
	require.False(t, cb.Allow(), "breaker should open once the failure rate reaches the threshold")
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := resilience.NewCircuitBreaker(time.Minute, 1, 1, 0.5, time.Hour, 1)
	cb.RecordResult(true)
	require.True(t, cb.Allow())
}

func TestCircuitBreakerHalfOpensAfterCooldownAndCloses(t *testing.T) {
	cb := resilience.NewCircuitBreaker(time.Minute, 1, 1, 0.5, time.Millisecond, 1)
	cb.RecordResult(false)
	require.False(t, cb.Allow())

	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow(), "breaker should admit the transitioning half-open probe after the cooldown")
	cb.RecordResult(true)

	require.True(t, cb.Allow(), "breaker should admit a second half-open probe")
	cb.RecordResult(true)

	require.True(t, cb.Allow(), "breaker should be closed after the transitioning probe and maxHalfOpenProbes counted probes succeed")
}

func TestCircuitBreakerReopensOnFailedHalfOpenProbe(t *testing.T) {
	cb := resilience.NewCircuitBreaker(time.Minute, 1, 1, 0.5, time.Millisecond, 1)
	cb.RecordResult(false)
	require.False(t, cb.Allow())

	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordResult(false)
	require.False(t, cb.Allow(), "a failed half-open probe should re-open the breaker")
}
