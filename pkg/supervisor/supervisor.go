// Package supervisor implements the Worker Supervisor and the dynamic
// supervisor (here, Registry) that parents every Worker Supervisor.
//
// The restart loop is grounded on the corpus's panic-recover-and-
// relaunch supervisor idiom; the handle-keyed child map is grounded on
// the teacher's worker.HealthMonitor, which tracks one
// context.CancelFunc per monitored concern under a mutex.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/cachettl/pkg/events"
	"github.com/cuemby/cachettl/pkg/log"
	"github.com/cuemby/cachettl/pkg/metrics"
)

// Reason is why a supervised run exited on its own (as opposed to
// being recovered from a panic).
type Reason int

const (
	// ReasonNormal means the supervised work decided, on its own
	// terms, that it is done (e.g. TTL expiry). It is not restarted.
	ReasonNormal Reason = iota
	// ReasonShutdown means the context was canceled by the owner
	// (e.g. the Manager tearing the child down). It is not restarted.
	ReasonShutdown
)

// RunFunc is the supervised body of a single child. It must return
// promptly after ctx is canceled. A panic inside RunFunc is treated as
// a crash: the Registry recovers it, logs it, and restarts RunFunc
// from the top — restart policy "transient", with no restart-count
// ceiling, since a live key's Worker is expected to restart
// indefinitely across panics.
type RunFunc func(ctx context.Context) Reason

type child struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry is the dynamic supervisor: a one-for-one restarter per
// handle, addressable so the owner can stop a subtree without knowing
// the current identity of the goroutine running underneath it.
type Registry struct {
	mu       sync.Mutex
	children map[string]*child
	events   *events.Broker
}

// NewRegistry creates an empty Registry. broker may be nil; events are
// skipped when it is.
func NewRegistry(broker *events.Broker) *Registry {
	return &Registry{children: make(map[string]*child), events: broker}
}

// StartChild launches run under supervision, keyed by handle. It
// returns an error if handle is already running.
func (r *Registry) StartChild(handle string, run RunFunc) error {
	r.mu.Lock()
	if _, exists := r.children[handle]; exists {
		r.mu.Unlock()
		return fmt.Errorf("supervisor: child %q already running", handle)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &child{cancel: cancel, done: make(chan struct{})}
	r.children[handle] = c
	r.mu.Unlock()

	r.publish("worker.started", handle)
	go r.supervise(ctx, handle, run, c)
	return nil
}

// StopChild cancels handle's context and waits for it to exit. It is
// a no-op if handle is not running.
func (r *Registry) StopChild(handle string) error {
	r.mu.Lock()
	c, exists := r.children[handle]
	r.mu.Unlock()
	if !exists {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

// StopAll cancels every running child and waits for them all to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]string, 0, len(r.children))
	for h := range r.children {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		_ = r.StopChild(h)
	}
}

// Count returns the number of currently supervised children.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

func (r *Registry) remove(handle string) {
	r.mu.Lock()
	delete(r.children, handle)
	r.mu.Unlock()
}

func (r *Registry) supervise(ctx context.Context, handle string, run RunFunc, c *child) {
	logger := log.WithComponent("supervisor")
	defer close(c.done)
	defer r.remove(handle)

	for {
		reason, crashed := runOnce(ctx, run)
		if crashed {
			logger.Warn().Str("handle", handle).Msg("supervised child panicked, restarting")
			metrics.WorkerRestartsTotal.Inc()
			r.publish("worker.restarted", handle)
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if reason == ReasonNormal {
			logger.Info().Str("handle", handle).Msg("supervised child exited normally")
		} else {
			logger.Info().Str("handle", handle).Msg("supervised child shut down")
		}
		return
	}
}

func runOnce(ctx context.Context, run RunFunc) (reason Reason, crashed bool) {
	defer func() {
		if p := recover(); p != nil {
			crashed = true
			log.WithComponent("supervisor").Error().Interface("panic", p).Msg("recovered panic in supervised child")
		}
	}()
	reason = run(ctx)
	return reason, false
}

func (r *Registry) publish(eventType, handle string) {
	if r.events == nil {
		return
	}
	r.events.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     events.EventType(eventType),
		Message:  handle,
		Metadata: map[string]string{"handle": handle},
	})
}
