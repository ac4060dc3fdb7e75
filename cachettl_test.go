package cachettl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cachettl/pkg/producer"
	"github.com/cuemby/cachettl/pkg/store"
)

func newTestCache(t *testing.T, refresh time.Duration) *Cache {
	t.Helper()
	c := New(Config{RefreshInterval: refresh, DisableMetrics: true})
	require.NoError(t, c.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c
}

// scenario 1: fresh key, first read before compute finishes.
func TestFreshKeyIsBusyThenReady(t *testing.T) {
	refresh := 20 * time.Millisecond
	c := newTestCache(t, refresh)
	key := store.StringKey("HEL")

	require.NoError(t, c.Store(context.Background(), key, "V", 10*refresh))

	_, status, err := c.Get(key)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, StatusBusy, status)

	assert.Eventually(t, func() bool {
		v, status, err := c.Get(key)
		return err == nil && status == StatusReady && v == "V"
	}, time.Second, 5*time.Millisecond)
}

// scenario 2: TTL-too-low rejection, exact message wording.
func TestTTLTooLowRejectsWithExactMessage(t *testing.T) {
	refresh := 4 * time.Second
	c := New(Config{RefreshInterval: refresh, DisableMetrics: true})
	require.NoError(t, c.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	}()

	err := c.Store(context.Background(), store.StringKey("HEL"), "V", 3990*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTTLTooLow)
	assert.Equal(t, "TTL too low. Should be greater than refresh_interval: 4000ms", err.Error())
}

// scenario 3: fractional TTL accepted, treated as whole milliseconds.
func TestFractionalTTLAccepted(t *testing.T) {
	refresh := 20 * time.Millisecond
	c := newTestCache(t, refresh)

	err := c.Store(context.Background(), store.StringKey("HEL"), "V", 500*time.Millisecond)
	assert.NoError(t, err)
}

// scenario 4: default TTL of 3600s when the variadic ttl is omitted.
func TestDefaultTTLIsOneHour(t *testing.T) {
	refresh := 20 * time.Millisecond
	c := newTestCache(t, refresh)

	err := c.Store(context.Background(), store.StringKey("HEL"), "V")
	assert.NoError(t, err)
}

// scenario 5: expiry without refresh transitions to the exact not-found message.
func TestExpiryWithoutRefreshReturnsNotFound(t *testing.T) {
	refresh := 10 * time.Millisecond
	c := newTestCache(t, refresh)
	key := store.StringKey("HEL")

	require.NoError(t, c.Store(context.Background(), key, "V", 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, _, err := c.Get(key)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	_, _, err := c.Get(key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "data with the given key HEL is not yet available", err.Error())
}

// scenario 6: crash isolation. A recipe that panics once then succeeds
// must not take down the rest of the cache; the key eventually reads ok.
func TestCrashIsolationRecoversAndRestOfCacheUnaffected(t *testing.T) {
	refresh := 10 * time.Millisecond
	c := New(Config{
		RefreshInterval: refresh,
		DisableMetrics:  true,
		Producer: func(v any) producer.Recipe {
			if v != "V" {
				return producer.Wrap(v)
			}
			return producer.Simulated(producer.SimPolicy{
				Steps: []producer.Step{
					{Outcome: producer.OutcomePanic},
					{Outcome: producer.OutcomeOK},
				},
				Value: v,
			})
		},
	})
	require.NoError(t, c.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	}()

	crashy := store.StringKey("crashy")
	require.NoError(t, c.Store(context.Background(), crashy, "V", 10*refresh))

	healthy := store.StringKey("healthy")
	require.NoError(t, c.Store(context.Background(), healthy, "W", 10*refresh))

	assert.Eventually(t, func() bool {
		v, status, err := c.Get(crashy)
		return err == nil && status == StatusReady && v == "V"
	}, time.Second, 5*time.Millisecond, "the worker must survive its own panic and eventually serve the recovered value")

	assert.Eventually(t, func() bool {
		v, status, err := c.Get(healthy)
		return err == nil && status == StatusReady && v == "W"
	}, time.Second, 5*time.Millisecond, "an unrelated key's worker must be unaffected by another key's crash")
}

func TestGetOnNeverStoredKeyReturnsNotFound(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)
	_, _, err := c.Get(store.StringKey("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartTwiceReturnsError(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)
	err := c.Start()
	assert.Error(t, err)
}

func TestStopRespectsContextDeadline(t *testing.T) {
	c := New(Config{RefreshInterval: 20 * time.Millisecond, DisableMetrics: true})
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := c.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
