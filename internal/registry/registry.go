// Package registry implements the factory that validates configuration,
// constructs replicator.Controller instances, and tracks the set of live
// controllers for diagnostics.
//
// Grounded on internal/daemon/registry.go's mutex-guarded registry of live
// daemon entries, generalized from "one entry per running daemon process"
// to "one entry per live replicator controller". Unlike the teacher's
// registry this one is purely in-process (sync.Mutex + map, no file lock,
// no cross-process discovery) — a replicator controller has no existence
// outside the process that created it.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/replicator"
	"github.com/mobilesync/replicore/internal/transport"
)

// Entry is a snapshot of one live controller, returned by List. It is a
// value copy: mutating it has no effect on the registry or the
// controller.
type Entry struct {
	ID        string
	Direction replconfig.Direction
	Local     string
	Remote    string
	State     replicator.State
}

// Registry tracks the set of controllers created through it. It does not
// extend a controller's self-retention lifecycle (spec.md §4.6). An entry
// stays in the registry after its controller reaches a terminal state,
// until Forget removes it; the registry takes no part in keeping a running
// controller alive, which is the controller's own self-retention.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory transport.Factory
	metrics *replicator.Metrics
}

type entry struct {
	id         string
	cfg        replconfig.Config
	controller *replicator.Controller
}

// New constructs a Registry that builds controllers via factory
// (typically the websocket reference Transport.New, or a fake in tests),
// instrumenting each with metrics. metrics may be nil.
func New(factory transport.Factory, metrics *replicator.Metrics) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		metrics: metrics,
	}
}

// Create validates cfg, constructs a controller (not yet started), and
// tracks it for List/Lookup. The caller is responsible for calling
// Start/Stop on the returned controller; Create itself has no lifecycle
// side effects.
func (r *Registry) Create(cfg replconfig.Config, opts transport.Options) (id string, c *replicator.Controller, err error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("registry: %w", err)
	}

	id = uuid.NewString()
	instanceLabel := id

	controller := replicator.New(cfg, r.factory, opts, r.metrics, instanceLabel)

	r.mu.Lock()
	r.entries[id] = &entry{id: id, cfg: cfg, controller: controller}
	r.mu.Unlock()

	return id, controller, nil
}

// List returns a snapshot of every controller ever created through this
// registry, live or terminal. Callers that only want currently-active
// controllers should filter on Entry.State.Active().
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Entry{
			ID:        e.id,
			Direction: e.cfg.Direction,
			Local:     e.cfg.Local,
			Remote:    e.cfg.Remote,
			State:     e.controller.State(),
		})
	}
	return out
}

// Lookup returns the controller registered under id, if any.
func (r *Registry) Lookup(id string) (*replicator.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.controller, true
}

// Forget removes a terminal controller's entry from the live set. It is a
// no-op if id is unknown or the controller is still active — the registry
// never drops an active controller out from under its own self-retention.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.controller.State().Active() {
		return
	}
	delete(r.entries, id)
}

// StopAll calls Stop on every tracked controller; used for orderly
// process shutdown. It does not wait for terminal states to be reached.
func (r *Registry) StopAll(_ context.Context) {
	r.mu.Lock()
	controllers := make([]*replicator.Controller, 0, len(r.entries))
	for _, e := range r.entries {
		controllers = append(controllers, e.controller)
	}
	r.mu.Unlock()

	for _, c := range controllers {
		c.Stop()
	}
}
