package metrics

import (
	"fmt"
	"time"
)

// Sized is anything the Collector can sample a live count from: the
// Store (live keys) and the supervisor Registry (live Workers) both
// satisfy it. Accepting the interface here, rather than importing
// either package directly, keeps metrics a leaf dependency that every
// other package can import without risking a cycle.
type Sized interface {
	Len() int
}

// Counted is anything the Collector can sample a live child count from.
type Counted interface {
	Count() int
}

// Collector periodically samples gauge-shaped state from the Store and
// the supervisor Registry, mirroring the teacher's ticker-driven
// Collector that samples the Manager.
type Collector struct {
	store    Sized
	registry Counted
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector sampling every interval. A
// non-positive interval defaults to 15 seconds.
func NewCollector(store Sized, registry Counted, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{store: store, registry: registry, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// collect samples live state and feeds it to both the Prometheus
// gauges and the health/readiness component registry, so a component
// marked "healthy" reports the same live key/worker counts an operator
// would see on /metrics rather than a static placeholder message.
func (c *Collector) collect() {
	keys := c.store.Len()
	workers := c.registry.Count()
	KeysTotal.Set(float64(keys))
	WorkersActive.Set(float64(workers))
	UpdateComponent("store", true, fmt.Sprintf("%d live keys", keys))
	UpdateComponent("manager", true, fmt.Sprintf("%d active workers", workers))
}
