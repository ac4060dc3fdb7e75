// Package cachettl is an in-process, self-rehydrating key/value cache.
// Fresh inputs arrive continuously for a known set of keys; turning an
// input into a served value is expensive and is amortized out-of-band
// of reads by one background Worker per key; reads are infrequent,
// wait-free, and always return the most recently successfully computed
// value for a key.
//
// Cache is the Supervision Root: it holds the Manager, the task pool,
// the dynamic supervisor (Worker Supervisor registry), and, through
// the Store, the one-worker-per-key invariant (a Worker for key K
// exists iff K has a live Record).
package cachettl

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cuemby/cachettl/pkg/events"
	"github.com/cuemby/cachettl/pkg/log"
	"github.com/cuemby/cachettl/pkg/manager"
	"github.com/cuemby/cachettl/pkg/metrics"
	"github.com/cuemby/cachettl/pkg/producer"
	"github.com/cuemby/cachettl/pkg/store"
	"github.com/cuemby/cachettl/pkg/supervisor"
	"github.com/cuemby/cachettl/pkg/taskpool"
)

// CacheStatus mirrors the source design's {ok,data} | {busy,reason} |
// {error,reason} return shape for Get.
type CacheStatus string

const (
	StatusReady CacheStatus = "ready"
	StatusBusy  CacheStatus = "busy"
)

// Cache is the embeddable cache. The zero value is not usable; build
// one with New.
type Cache struct {
	cfg      Config
	store    *store.Store
	pool     *taskpool.Pool
	registry *supervisor.Registry
	mgr      *manager.Manager
	events   *events.Broker
	metrics  *metrics.Collector

	started atomic.Bool
}

// New builds a Cache from cfg. Apart from the task pool's worker
// goroutines, which taskpool.New starts, it does not start any
// background work; call Start for that.
func New(cfg Config) *Cache {
	if cfg.RefreshInterval <= 0 {
		panic("cachettl: Config.RefreshInterval must be positive")
	}
	if !log.Initialized() {
		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false, Output: os.Stdout})
	}

	wrap := cfg.Producer
	if wrap == nil {
		wrap = producer.Wrap
	}

	st := store.New(cfg.Shards)
	broker := events.NewBroker()
	pool := taskpool.New(cfg.PoolWorkers, cfg.PoolQueueSize)
	registry := supervisor.NewRegistry(broker)
	mgr := manager.New(st, pool, registry, broker, wrap, cfg.RefreshInterval)

	c := &Cache{
		cfg:      cfg,
		store:    st,
		pool:     pool,
		registry: registry,
		mgr:      mgr,
		events:   broker,
	}
	if !cfg.DisableMetrics {
		c.metrics = metrics.NewCollector(st, registry, cfg.MetricsInterval)
	}
	return c
}

// Start publishes the process-global refresh interval and launches the
// Manager, event broker, and metrics collector.
func (c *Cache) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("cachettl: Cache already started")
	}
	store.InitGlobals(c.cfg.RefreshInterval)
	c.events.Start()
	c.mgr.Start()
	if c.metrics != nil {
		c.metrics.Start()
	}
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("manager", true, "")
	return nil
}

// Stop tears down every live Worker and halts background work. It
// does not delete the underlying Store's data; the Cache is not usable
// again afterward.
func (c *Cache) Stop(ctx context.Context) error {
	metrics.UpdateComponent("manager", false, "stopped")
	done := make(chan struct{})
	go func() {
		c.mgr.Stop()
		if c.metrics != nil {
			c.metrics.Stop()
		}
		c.events.Stop()
		c.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store installs value for key, defaulting ttl to one hour when
// omitted. It returns only once the recipe is visible in the Store;
// it does not wait for the Worker to compute anything.
func (c *Cache) Store(ctx context.Context, key store.Key, value any, ttl ...time.Duration) error {
	ttlSeconds := 3600.0
	if len(ttl) > 0 {
		ttlSeconds = ttl[0].Seconds()
	}
	return c.mgr.Store(ctx, key, value, ttlSeconds)
}

// Get reads key directly from the Store without going through the
// Manager, so it never blocks and its latency does not depend on the
// number of live keys or on any Worker's state.
func (c *Cache) Get(key store.Key) (any, CacheStatus, error) {
	rec, ok := c.store.Lookup(key)
	if !ok {
		return nil, "", &notFoundError{key: key}
	}
	if rec.Status != store.StatusReady {
		return nil, StatusBusy, ErrNotReady
	}
	return rec.Value, StatusReady, nil
}

// Events returns the lifecycle event broker, so an embedder may
// subscribe to worker.started / worker.restarted / key.expired /
// recipe.failed occurrences. This is additive instrumentation only.
func (c *Cache) Events() *events.Broker {
	return c.events
}
