// Package worker implements the per-key refresh state machine: one
// Worker per live key, running Initializing -> Timing -> Deciding ->
// (Computing | Terminating).
//
// The run loop is the direct generalization of the teacher's
// reconciler/scheduler ticker loops (select over a single time.Ticker
// and a done channel), moved from "one shared pass over a list of
// nodes" to "one per-key pass over a single Record", and from
// log-and-continue to the TTL-parity decision tree below.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/cachettl/pkg/events"
	"github.com/cuemby/cachettl/pkg/log"
	"github.com/cuemby/cachettl/pkg/metrics"
	"github.com/cuemby/cachettl/pkg/producer"
	"github.com/cuemby/cachettl/pkg/store"
	"github.com/cuemby/cachettl/pkg/supervisor"
)

// Terminator is the one thing a Worker needs from its owner: a way to
// ask, asynchronously, for its own supervising scope to be torn down.
// A Worker cannot stop its own supervisor synchronously since it runs
// underneath it; Manager implements this by spawning a task-pool job
// that stops the named child.
type Terminator interface {
	Terminate(handle string)
}

// Worker owns the refresh loop for a single key. It is not safe for
// concurrent use by more than one goroutine — exactly one goroutine
// (the one the Worker Supervisor launches) ever calls Run.
type Worker struct {
	key              store.Key
	ttlMs            int64
	supervisorHandle string
	refreshInterval  time.Duration

	st         *store.Store
	terminator Terminator
	events     *events.Broker
	log        zerolog.Logger

	ttlStamp     int64
	refreshStamp int64
	counter      int64
}

// New builds a Worker for key. ttlMs and supervisorHandle are fixed
// for the Worker's lifetime, including across supervised restarts.
func New(key store.Key, ttlMs int64, supervisorHandle string, st *store.Store, terminator Terminator, refreshInterval time.Duration, broker *events.Broker) *Worker {
	return &Worker{
		key:              key,
		ttlMs:            ttlMs,
		supervisorHandle: supervisorHandle,
		refreshInterval:  refreshInterval,
		st:               st,
		terminator:       terminator,
		events:           broker,
		log:              log.WithComponent("worker"),
	}
}

// Run is the supervised body of the Worker: it initializes, then ticks
// forever until it decides to expire (ReasonNormal) or is canceled by
// its owner (ReasonShutdown). A panic raised while invoking a recipe
// propagates out of Run uncaught — the Worker Supervisor recovers it,
// logs it, and calls Run again, which re-initializes from the Store's
// current state so no data is lost across the crash.
func (w *Worker) Run(ctx context.Context) (reason supervisor.Reason) {
	rec, ok := w.st.Lookup(w.key)
	if !ok {
		// The Record is already gone (raced with an expiry or a
		// direct Delete); nothing left to refresh.
		return supervisor.ReasonShutdown
	}
	w.ttlStamp = rec.Timestamp
	// refreshStamp starts at a sentinel distinct from any real tick
	// (Store.NextTimestamp begins at 1), so the first Deciding pass
	// always sees the timestamp as "advanced" and invokes the
	// just-installed recipe instead of treating it as already seen.
	w.refreshStamp = 0
	w.counter = 0

	ticker := time.NewTicker(w.refreshInterval)
	defer ticker.Stop()
	defer func() {
		w.log.Info().
			Str("key", w.key.String()).
			Int("reason", int(reason)).
			Msg("worker exiting")
	}()

	for {
		select {
		case <-ctx.Done():
			return supervisor.ReasonShutdown
		case <-ticker.C:
			if done := w.decide(); done {
				return supervisor.ReasonNormal
			}
		}
	}
}

// decide implements the Deciding state in the exact order the spec
// requires: TTL parity check, then either the TTL expiry check (and
// expire-or-reset-window) or the refresh tick, then advance state. It
// reports true iff the Worker should now terminate.
func (w *Worker) decide() bool {
	steps := w.refreshInterval.Milliseconds() * max(w.counter, 1)
	if steps >= w.ttlMs {
		return w.decideTTL()
	}
	w.decideRefresh()
	return false
}

func (w *Worker) decideTTL() bool {
	rec, ok := w.st.Lookup(w.key)
	if !ok {
		return true
	}
	if rec.Timestamp == w.ttlStamp {
		// No producer has updated this key during the TTL window:
		// it is stale. Expire it and ask to be torn down.
		w.st.Delete(w.key)
		w.terminator.Terminate(w.supervisorHandle)
		metrics.KeyExpirationsTotal.Inc()
		w.publish(events.EventKeyExpired)
		w.log.Info().Str("key", w.key.String()).Msg("key expired")
		return true
	}
	// A fresh recipe arrived during the window: this counts as a new
	// TTL window starting now.
	w.ttlStamp = rec.Timestamp
	w.refreshStamp = rec.Timestamp
	w.counter = 0
	return false
}

func (w *Worker) decideRefresh() {
	rec, ok := w.st.Lookup(w.key)
	if !ok {
		return
	}
	if rec.Timestamp != w.refreshStamp {
		w.invoke(rec.Recipe)
	}
	w.refreshStamp = rec.Timestamp
	w.counter++
}

func (w *Worker) invoke(recipe producer.Recipe) {
	timer := metrics.NewTimer()
	v, err := recipe()
	timer.ObserveDuration(metrics.RefreshDuration)
	if err != nil {
		w.log.Warn().Str("key", w.key.String()).Err(err).Msg("recipe returned recoverable error")
		metrics.RecipeOutcomesTotal.WithLabelValues("error").Inc()
		w.publish(events.EventRecipeFailed)
		return
	}
	metrics.RecipeOutcomesTotal.WithLabelValues("ok").Inc()
	w.st.UpdateFields(w.key, store.WithValue(v), store.WithStatus(store.StatusReady))
}

func (w *Worker) publish(t events.EventType) {
	if w.events == nil {
		return
	}
	w.events.Publish(&events.Event{Type: t, Message: w.key.String()})
}
