package producer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAlwaysSucceedsWithCapturedValue(t *testing.T) {
	recipe := Wrap(42)
	v, err := recipe()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWrapSnapshotsValueAtWrapTime(t *testing.T) {
	v := []int{1, 2, 3}
	recipe := Wrap(v)
	v[0] = 999 // the recipe shares the slice's backing array, so this mutation is visible

	got, err := recipe()
	require.NoError(t, err)
	assert.Equal(t, []int{999, 2, 3}, got, "Wrap snapshots the slice header, not a deep copy")
}

func TestSimulatedWithNoStepsReturnsValue(t *testing.T) {
	recipe := Simulated(SimPolicy{Value: "steady"})
	v, err := recipe()
	require.NoError(t, err)
	assert.Equal(t, "steady", v)
}

func TestSimulatedScriptsOutcomesInOrder(t *testing.T) {
	customErr := errors.New("boom")
	recipe := Simulated(SimPolicy{
		Steps: []Step{
			{Outcome: OutcomeOK},
			{Outcome: OutcomeError, Err: customErr},
			{Outcome: OutcomeOK},
		},
		Value: "v",
	})

	v, err := recipe()
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = recipe()
	assert.ErrorIs(t, err, customErr)

	v, err = recipe()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestSimulatedRepeatsLastStepOnceExhausted(t *testing.T) {
	recipe := Simulated(SimPolicy{
		Steps: []Step{{Outcome: OutcomeOK}},
		Value: "v",
	})
	for i := 0; i < 5; i++ {
		v, err := recipe()
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
}

func TestSimulatedPanicStepPanics(t *testing.T) {
	recipe := Simulated(SimPolicy{Steps: []Step{{Outcome: OutcomePanic}}})
	assert.Panics(t, func() { recipe() })
}

func TestSimulatedErrorStepWithoutCustomErrReturnsDefault(t *testing.T) {
	recipe := Simulated(SimPolicy{Steps: []Step{{Outcome: OutcomeError}}})
	_, err := recipe()
	assert.Error(t, err)
}

func TestSimulatedAppliesLatency(t *testing.T) {
	recipe := Simulated(SimPolicy{Latency: 20 * time.Millisecond, Value: "v"})
	start := time.Now()
	_, err := recipe()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
