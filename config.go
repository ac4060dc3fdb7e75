package cachettl

import (
	"time"

	"github.com/cuemby/cachettl/pkg/producer"
)

// Config is read once by New and is not reconfigurable at runtime, per
// the cache's single configuration knob (refresh interval).
type Config struct {
	// RefreshInterval is the cadence at which every Worker wakes.
	// Required; New panics if it is <= 0.
	RefreshInterval time.Duration

	// Shards sets the Store's shard count. <= 0 selects the default
	// (32).
	Shards int

	// PoolWorkers and PoolQueueSize size the task pool backing
	// Store installs and supervisor teardowns. <= 0 selects defaults.
	PoolWorkers   int
	PoolQueueSize int

	// MetricsInterval sets the Collector's sampling cadence. <= 0
	// selects the default (15s). Ignored if DisableMetrics is set.
	MetricsInterval time.Duration
	DisableMetrics  bool

	// Producer adapts a caller's Store value into a producer.Recipe.
	// Defaults to producer.Wrap, which simply returns the value
	// unchanged. Tests and advanced embedders may substitute
	// producer.Simulated to exercise recoverable-error and crash-
	// isolation behavior through the public Cache API.
	Producer func(any) producer.Recipe
}
