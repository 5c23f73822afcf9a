// Package replicator implements the Controller state machine that drives a
// single push or pull replication job: Pending -> Started -> Stopping ->
// {Stopped, Complete, Error}, with self-retention, delegate fan-out, and
// error projection as specified.
//
// Grounded on the teacher's internal/rpc client for the debug-log texture
// and connection-lifecycle shape, and on internal/daemon for the
// mutex-guarded single-owner discipline — generalized from "one RPC
// connection" / "one daemon process" to "one replication job".
package replicator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/transport"
)

func debugEnabled() bool {
	v := os.Getenv("REPLICORE_DEBUG")
	return v == "1" || v == "true"
}

func debugLog(format string, args ...interface{}) {
	if debugEnabled() {
		fmt.Fprintf(os.Stderr, "[REPLICATOR DEBUG] "+format+"\n", args...)
	}
}

// Delegate receives fire-and-forget notifications about a Controller's
// lifecycle. A nil delegate is tolerated everywhere.
type Delegate interface {
	DidChangeState(c *Controller)
	DidChangeProgress(c *Controller)
	DidComplete(c *Controller)
	DidError(c *Controller, err error)
}

// Controller drives one replication job end to end. The zero value is not
// usable; construct with New.
type Controller struct {
	mu sync.Mutex

	state State
	// started latches true the first time Start is called, under the same
	// lock acquisition as the check that reads it. This is the actual
	// "start at most once" guard: c.state stays StatePending for the
	// entire factory/Subscribe/Start sequence below, which can include
	// real dial latency, so gating re-entry on c.state would let two
	// concurrent Start calls both pass.
	started   bool
	err       error
	processed int64
	total     int64

	delegate Delegate
	job      transport.Job

	// self is the self-retention slot (spec.md §4.5 step 2): a strong
	// reference to the controller itself, held from a successful start
	// until the stopped callback processes, so the controller survives
	// even if every external reference is dropped.
	self *Controller

	cfg     replconfig.Config
	factory transport.Factory
	opts    transport.Options

	metrics       *Metrics
	instanceLabel string
}

// New constructs a Controller in the Pending state. metrics may be nil to
// disable Prometheus instrumentation (e.g. in unit tests).
func New(cfg replconfig.Config, factory transport.Factory, opts transport.Options, metrics *Metrics, instanceLabel string) *Controller {
	return &Controller{
		state:         StatePending,
		cfg:           cfg,
		factory:       factory,
		opts:          opts,
		metrics:       metrics,
		instanceLabel: instanceLabel,
	}
}

// transitionResult captures, under the controller's lock, which delegate
// calls are pending as a consequence of a state/counter mutation. Firing
// happens only after the lock is released (resolves the "lock scope in
// the started handler" open question the same way for every call site).
type transitionResult struct {
	stateChanged    bool
	progressChanged bool
	completing      bool
	erroring        bool
	newState        State
	err             error
}

// applyLocked must be called with c.mu held. mutate performs the state
// change; applyLocked computes the delegate-call decision against the
// captured before/after snapshot.
func (c *Controller) applyLocked(mutate func()) transitionResult {
	oldState := c.state
	oldProcessed, oldTotal := c.processed, c.total

	mutate()

	res := transitionResult{
		stateChanged:    oldState != c.state,
		progressChanged: oldProcessed != c.processed || oldTotal != c.total,
		newState:        c.state,
		err:             c.err,
	}
	if oldState.Active() && c.state.Terminal() && c.state != StateError {
		res.completing = true
	}
	if oldState.Active() && c.state == StateError {
		res.erroring = true
	}

	if c.metrics != nil && res.stateChanged {
		c.metrics.StateTransitionsTotal.WithLabelValues(c.instanceLabel, c.state.String()).Inc()
	}
	if c.metrics != nil && res.progressChanged {
		c.metrics.ChangesProcessed.WithLabelValues(c.instanceLabel).Set(float64(c.processed))
		c.metrics.ChangesTotal.WithLabelValues(c.instanceLabel).Set(float64(c.total))
	}
	return res
}

func (c *Controller) fireDelegate(res transitionResult) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d == nil {
		return
	}
	if res.stateChanged {
		d.DidChangeState(c)
	}
	if res.progressChanged {
		d.DidChangeProgress(c)
	}
	if res.completing {
		d.DidComplete(c)
	}
	if res.erroring {
		d.DidError(c, res.err)
	}
}

// SetDelegate installs d as the controller's delegate, replacing any
// previous one.
func (c *Controller) SetDelegate(d Delegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether the controller has not yet reached a terminal
// state.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active()
}

// ChangesProcessed returns the most recently observed processed count.
func (c *Controller) ChangesProcessed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

// ChangesTotal returns the most recently observed total count.
func (c *Controller) ChangesTotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Err returns nil while the controller is active, regardless of any
// non-fatal transport error in flight; once terminal it returns the
// projected error, if any (spec.md §4.5 error projection).
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return nil
	}
	return c.err
}

// Start may be called at most once. See package doc and spec.md §4.5 for
// the exact sequencing this follows.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.state != StatePending {
		c.mu.Unlock()
		return newError(DomainReplicator, CodeAlreadyStarted, errors.New("start called more than once or after stop"))
	}
	c.started = true
	c.mu.Unlock()

	debugLog("building transport job for local=%q remote=%q push=%v", c.cfg.Local, c.cfg.Remote, c.opts.Push)
	job, err := c.factory(c.cfg.Local, c.cfg.Remote, c.cfg, c.opts)
	if err != nil {
		return c.failInit(err)
	}

	c.mu.Lock()
	if c.state != StatePending {
		// stop() raced us while the transport was under construction and
		// already moved to Stopped (spec.md §4.5 step 4, "Pending without
		// a constructed transport"). Tear down the now-unused job.
		c.mu.Unlock()
		job.Stop()
		return nil
	}
	c.processed, c.total = 0, 0 // reset before subscribing, see spec.md §9
	c.job = job
	c.mu.Unlock()

	if err := job.Subscribe(c); err != nil {
		return c.failInit(err)
	}
	if err := job.Start(ctx); err != nil {
		return c.failInit(err)
	}

	c.mu.Lock()
	res := c.applyLocked(func() {
		c.state = StateStarted
		c.self = c
	})
	c.mu.Unlock()
	c.fireDelegate(res)
	debugLog("controller started")
	return nil
}

func (c *Controller) failInit(cause error) error {
	wrapped := newError(DomainReplicator, CodeTransportInitFailed, cause)
	c.mu.Lock()
	res := c.applyLocked(func() {
		c.state = StateError
		c.err = wrapped
	})
	c.mu.Unlock()
	c.fireDelegate(res)
	debugLog("transport init failed: %v", cause)
	return wrapped
}

// Stop is idempotent and safe from any state. It returns true once the
// cancellation is accepted (or the controller was already terminal);
// false only when a Pending cancellation attempt against an in-flight
// transport fails, per spec.md §4.5 step 4. From Started, a transport that
// is not yet running is first cancelled outright (straight to Stopped);
// otherwise the controller moves to Stopping. A cancelled start does not
// fire DidComplete.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	switch c.state {
	case StateStopped, StateComplete, StateError:
		c.mu.Unlock()
		return true

	case StateStopping:
		c.mu.Unlock()
		return true

	case StatePending:
		job := c.job
		if job == nil {
			res := c.applyLocked(func() { c.state = StateStopped })
			c.mu.Unlock()
			c.fireDelegate(res)
			return true
		}
		c.mu.Unlock()
		if !job.CancelIfNotStarted() {
			return false
		}
		c.mu.Lock()
		res := c.applyLocked(func() { c.state = StateStopped })
		res.completing = false
		c.mu.Unlock()
		c.fireDelegate(res)
		return true

	case StateStarted:
		job := c.job
		if !job.Running() && job.CancelIfNotStarted() {
			res := c.applyLocked(func() {
				c.state = StateStopped
				c.self = nil
			})
			res.completing = false
			c.mu.Unlock()
			c.fireDelegate(res)
			return true
		}
		res := c.applyLocked(func() { c.state = StateStopping })
		c.mu.Unlock()
		c.fireDelegate(res)
		job.Stop()
		return true
	}
	c.mu.Unlock()
	return true
}

// OnTransportEvent implements transport.Observer.
func (c *Controller) OnTransportEvent(ev transport.Event, job transport.Job) {
	switch ev {
	case transport.EventStarted:
		c.mu.Lock()
		res := c.applyLocked(func() {
			if c.state.Active() {
				c.state = StateStarted
			}
		})
		c.mu.Unlock()
		c.fireDelegate(res)

	case transport.EventProgress:
		c.mu.Lock()
		if c.state.Terminal() {
			c.mu.Unlock()
			return
		}
		res := c.applyLocked(func() {
			c.processed = job.ChangesProcessed()
			c.total = job.ChangesTotal()
			if job.Running() {
				c.state = StateStarted
			}
		})
		c.mu.Unlock()
		c.fireDelegate(res)

	case transport.EventStopped:
		c.mu.Lock()
		oldState := c.state
		res := c.applyLocked(func() {
			if jerr := job.Err(); jerr != nil {
				c.state = StateError
				c.err = projectTransportError(jerr)
			} else if oldState == StateStarted {
				c.state = StateComplete
			} else {
				c.state = StateStopped
			}
			c.self = nil // release self-retention exactly once
		})
		c.mu.Unlock()
		c.fireDelegate(res)
		debugLog("controller reached terminal state %s", res.newState)
	}
}
