// Package taskpool implements the bounded pool of short-lived
// asynchronous jobs the Manager offloads to: a Store install/upsert,
// or a supervisor teardown request. It
// generalizes the teacher's repeated fire-and-forget "go func() {
// ... }()" idiom into a reusable, bounded primitive so a burst of
// inbound stores cannot spawn unbounded goroutines.
package taskpool

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/cachettl/pkg/log"
)

// Pool runs submitted jobs on a fixed number of worker goroutines,
// queued through a buffered channel.
type Pool struct {
	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
	stopped   atomic.Bool
	wg        sync.WaitGroup
}

// New starts a Pool with the given number of workers and queue
// capacity. Both fall back to sane defaults when <= 0.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.runJob(job)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("taskpool").Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	job()
}

// Submit enqueues job for execution without waiting for it to run; it
// blocks only while the queue is full. It reports false if the pool
// has been stopped.
func (p *Pool) Submit(job func()) bool {
	if p.stopped.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.done:
		return false
	}
}

// Stop signals every worker to exit once idle and waits for them all
// to return.
func (p *Pool) Stop() {
	p.closeOnce.Do(func() {
		p.stopped.Store(true)
		close(p.done)
	})
	p.wg.Wait()
}
