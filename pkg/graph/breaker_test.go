package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, Cooldown: time.Hour, HalfOpenMax: 1})

	assert.Equal(t, CircuitClosed, r.State("billing"))
	require.NoError(t, r.Allow("billing"))

	assert.Equal(t, CircuitClosed, r.RecordFailure("billing"))
	assert.Equal(t, CircuitClosed, r.RecordFailure("billing"))
	assert.Equal(t, CircuitOpen, r.RecordFailure("billing"))

	err := r.Allow("billing")
	require.Error(t, err)

	var aloeErr *schema.AloeError
	require.ErrorAs(t, err, &aloeErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, aloeErr.Code)
	assert.Equal(t, 3, aloeErr.Details["consecutive_failures"])
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour, HalfOpenMax: 1})

	r.RecordFailure("billing")
	r.RecordSuccess("billing")
	assert.Equal(t, CircuitClosed, r.RecordFailure("billing"))
	assert.Equal(t, CircuitOpen, r.RecordFailure("billing"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	require.Equal(t, CircuitOpen, r.RecordFailure("billing"))
	time.Sleep(20 * time.Millisecond)

	// First delegation after the cooldown is the test request.
	require.NoError(t, r.Allow("billing"))

	// A second concurrent test request exceeds HalfOpenMax.
	err := r.Allow("billing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "half-open")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("billing")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Allow("billing"))

	assert.Equal(t, CircuitOpen, r.RecordFailure("billing"))
	require.Error(t, r.Allow("billing"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("billing")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Allow("billing"))

	r.RecordSuccess("billing")
	assert.Equal(t, CircuitClosed, r.State("billing"))
	require.NoError(t, r.Allow("billing"))
}

func TestBreaker_RoutesAreIndependent(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1})

	r.RecordFailure("billing")
	assert.Equal(t, CircuitOpen, r.State("billing"))
	assert.Equal(t, CircuitClosed, r.State("refunds"))
	require.NoError(t, r.Allow("refunds"))
}

func TestBreaker_Stats(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig())
	r.RecordFailure("billing")

	stats := r.Stats("billing")
	assert.Equal(t, "billing", stats["route"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 1, stats["consecutive_failures"])
	assert.Equal(t, 5, stats["failure_threshold"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
