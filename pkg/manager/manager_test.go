package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cachettl/pkg/events"
	"github.com/cuemby/cachettl/pkg/producer"
	"github.com/cuemby/cachettl/pkg/store"
	"github.com/cuemby/cachettl/pkg/supervisor"
	"github.com/cuemby/cachettl/pkg/taskpool"
)

const testRefreshInterval = 50 * time.Millisecond

var initGlobalsOnce sync.Once

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	initGlobalsOnce.Do(func() { store.InitGlobals(testRefreshInterval) })

	st := store.New(4)
	pool := taskpool.New(2, 16)
	registry := supervisor.NewRegistry(nil)
	broker := events.NewBroker()
	broker.Start()

	m := New(st, pool, registry, broker, nil, testRefreshInterval)
	m.Start()

	t.Cleanup(func() {
		m.Stop()
		pool.Stop()
		broker.Stop()
	})
	return m
}

func TestStoreRejectsTTLNotGreaterThanRefreshInterval(t *testing.T) {
	m := newTestManager(t)
	err := m.Store(context.Background(), store.StringKey("k"), "v", testRefreshInterval.Seconds())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTTLTooLow)
	assert.Contains(t, err.Error(), "TTL too low")
}

func TestStoreAcceptsTTLGreaterThanRefreshInterval(t *testing.T) {
	m := newTestManager(t)
	err := m.Store(context.Background(), store.StringKey("k"), "v", 10*testRefreshInterval.Seconds())
	assert.NoError(t, err)
}

func TestStoreInstallsNewKeyAndSpawnsWorker(t *testing.T) {
	m := newTestManager(t)
	key := store.StringKey("k")

	require.NoError(t, m.Store(context.Background(), key, "v1", 10*testRefreshInterval.Seconds()))
	assert.Eventually(t, func() bool { return m.registry.Count() == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.store.Member(key))
}

func TestStoreOnExistingKeyUpdatesWithoutSpawningASecondWorker(t *testing.T) {
	m := newTestManager(t)
	key := store.StringKey("k")
	ttl := 10 * testRefreshInterval.Seconds()

	require.NoError(t, m.Store(context.Background(), key, "v1", ttl))
	assert.Eventually(t, func() bool { return m.registry.Count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Store(context.Background(), key, "v2", ttl))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.registry.Count(), "a re-store on a live key must not spawn a second worker")
}

func TestStoreReturnsContextErrorWhenCanceledBeforeDelivery(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Store(ctx, store.StringKey("k"), "v", 10*testRefreshInterval.Seconds())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminateStopsTheNamedWorker(t *testing.T) {
	m := newTestManager(t)
	key := store.StringKey("k")

	require.NoError(t, m.Store(context.Background(), key, "v", 10*testRefreshInterval.Seconds()))
	assert.Eventually(t, func() bool { return m.registry.Count() == 1 }, time.Second, time.Millisecond)

	handle := "worker-supervisor:" + key.String()
	m.Terminate(handle)
	assert.Eventually(t, func() bool { return m.registry.Count() == 0 }, time.Second, time.Millisecond)
}

func TestStoreWithProducerWrapPolicyPropagatesToWorkerRecipe(t *testing.T) {
	st := store.New(4)
	pool := taskpool.New(2, 16)
	registry := supervisor.NewRegistry(nil)
	broker := events.NewBroker()
	broker.Start()
	initGlobalsOnce.Do(func() { store.InitGlobals(testRefreshInterval) })

	wrap := func(v any) producer.Recipe {
		return producer.Simulated(producer.SimPolicy{Value: v})
	}
	m := New(st, pool, registry, broker, wrap, testRefreshInterval)
	m.Start()
	defer func() {
		m.Stop()
		pool.Stop()
		broker.Stop()
	}()

	key := store.StringKey("simulated")
	require.NoError(t, m.Store(context.Background(), key, "payload", 10*testRefreshInterval.Seconds()))
	rec, ok := st.Lookup(key)
	require.True(t, ok)
	assert.NotNil(t, rec.Recipe)
}
