// Package manager implements the single-writer coordinator that
// serializes inbound store requests, ensures exactly one Worker per
// key, and hands off installation work to a task pool so it never
// blocks on computation.
//
// The mailbox shape (a goroutine reading off an unbuffered request
// channel, reacting to self-posted results) generalizes the teacher's
// single-*Manager-instance-owns-all-writes texture away from Raft
// proposals into a plain in-process actor.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/cachettl/pkg/events"
	"github.com/cuemby/cachettl/pkg/log"
	"github.com/cuemby/cachettl/pkg/metrics"
	"github.com/cuemby/cachettl/pkg/producer"
	"github.com/cuemby/cachettl/pkg/store"
	"github.com/cuemby/cachettl/pkg/supervisor"
	"github.com/cuemby/cachettl/pkg/taskpool"
	"github.com/cuemby/cachettl/pkg/worker"
)

// WrapFunc adapts a caller-supplied value into a producer.Recipe. The
// default is producer.Wrap; tests and advanced embedders may supply a
// different adapter (e.g. producer.Simulated) without changing the
// External Interface's (key, value, ttl) shape.
type WrapFunc func(any) producer.Recipe

type storeRequest struct {
	ctx    context.Context
	key    store.Key
	recipe producer.Recipe
	ttlMs  int64
	reply  chan error
}

type taskResult struct {
	key    store.Key
	isNew  bool
	ttlMs  int64
	caller chan error
	err    error
}

// Manager is the single coordinator described in section 4.2.
type Manager struct {
	store           *store.Store
	pool            *taskpool.Pool
	registry        *supervisor.Registry
	events          *events.Broker
	wrap            WrapFunc
	refreshInterval time.Duration

	reqCh    chan storeRequest
	resultCh chan taskResult
	stopCh   chan struct{}

	log zerolog.Logger
}

// New builds a Manager. Call Start before using it.
func New(st *store.Store, pool *taskpool.Pool, registry *supervisor.Registry, broker *events.Broker, wrap WrapFunc, refreshInterval time.Duration) *Manager {
	if wrap == nil {
		wrap = producer.Wrap
	}
	return &Manager{
		store:           st,
		pool:            pool,
		registry:        registry,
		events:          broker,
		wrap:            wrap,
		refreshInterval: refreshInterval,
		reqCh:           make(chan storeRequest),
		resultCh:        make(chan taskResult, 64),
		stopCh:          make(chan struct{}),
		log:             log.WithComponent("manager"),
	}
}

// Start launches the Manager's single serialized request loop.
func (m *Manager) Start() {
	go m.run()
}

// Stop tears down every supervised Worker and halts the request loop.
func (m *Manager) Stop() {
	m.registry.StopAll()
	close(m.stopCh)
}

func (m *Manager) run() {
	for {
		select {
		case req := <-m.reqCh:
			m.handleRequest(req)
		case res := <-m.resultCh:
			m.handleResult(res)
		case <-m.stopCh:
			return
		}
	}
}

// Store validates and installs a new recipe for key, off-loading the
// actual Store write to the task pool. It returns only after the
// recipe is visible in the Store (or the caller's context is done).
func (m *Manager) Store(ctx context.Context, key store.Key, value any, ttlSeconds float64) error {
	refreshMs := m.refreshInterval.Milliseconds()
	ttlMs := int64(ttlSeconds * 1000) // truncates toward zero, matching trunc(ttl * 1000)
	if ttlMs <= refreshMs {
		metrics.StoreOperationsTotal.WithLabelValues("ttl_too_low").Inc()
		return &ttlTooLowError{refreshMs: refreshMs}
	}

	recipe := m.wrap(value)
	reply := make(chan error, 1)
	req := storeRequest{ctx: ctx, key: key, recipe: recipe, ttlMs: ttlMs, reply: reply}

	select {
	case m.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate asynchronously stops the named Worker Supervisor. A
// Worker calls this (through the worker.Terminator interface Manager
// satisfies) just before it exits on TTL expiry, since it cannot stop
// its own supervising scope synchronously.
func (m *Manager) Terminate(handle string) {
	m.pool.Submit(func() {
		if err := m.registry.StopChild(handle); err != nil {
			m.log.Warn().Str("handle", handle).Err(err).Msg("failed to stop worker supervisor")
		}
	})
}

func (m *Manager) handleRequest(req storeRequest) {
	key, recipe, ttlMs, caller := req.key, req.recipe, req.ttlMs, req.reply
	m.pool.Submit(func() {
		m.install(key, recipe, ttlMs, caller)
	})
}

// install performs the try-update-else-insert upsert. UpdateFields and
// InsertNew each take the shard lock separately, and InsertNew refuses
// to overwrite an existing Record, so when a concurrent install for the
// same brand-new key wins the insert, this one retries as an update.
// Exactly one install per new key reports isNew.
func (m *Manager) install(key store.Key, recipe producer.Recipe, ttlMs int64, caller chan error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InstallDuration)
	defer func() {
		if r := recover(); r != nil {
			metrics.StoreOperationsTotal.WithLabelValues("error").Inc()
			m.resultCh <- taskResult{key: key, caller: caller, err: &installFailedError{reason: r}}
		}
	}()

	for {
		now := m.store.NextTimestamp()
		if m.store.UpdateFields(key, store.WithRecipe(recipe), store.WithTimestamp(now)) {
			metrics.StoreOperationsTotal.WithLabelValues("updated").Inc()
			m.resultCh <- taskResult{key: key, isNew: false, caller: caller}
			return
		}
		if _, inserted := m.store.InsertNew(key, recipe, now); inserted {
			metrics.StoreOperationsTotal.WithLabelValues("new").Inc()
			m.resultCh <- taskResult{key: key, isNew: true, ttlMs: ttlMs, caller: caller}
			return
		}
	}
}

func (m *Manager) handleResult(res taskResult) {
	if res.err != nil {
		res.caller <- res.err
		return
	}
	res.caller <- nil
	if !res.isNew {
		return
	}

	handle := fmt.Sprintf("worker-supervisor:%s", res.key.String())
	w := worker.New(res.key, res.ttlMs, handle, m.store, m, m.refreshInterval, m.events)
	if err := m.registry.StartChild(handle, w.Run); err != nil {
		m.log.Error().Str("handle", handle).Err(err).Msg("failed to start worker supervisor")
	}
}
