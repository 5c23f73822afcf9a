package transport

import (
	"context"
	"sync"
)

// FakeJob is an in-process, no-network Job for controller unit tests. The
// test drives its lifecycle explicitly by calling EmitStarted/EmitProgress/
// EmitStopped — nothing happens on a timer or a real socket.
//
// Grounded on the teacher's own preference for hand-written test doubles
// over a mocking library (internal/rpc/test_helpers.go builds an
// in-process client/server pair rather than mocking the protocol).
type FakeJob struct {
	mu sync.Mutex

	started    bool
	cancelled  bool
	stopped    bool
	cancelOK   bool // what CancelIfNotStarted should return
	running    bool
	err        error
	processed  int64
	total      int64
	sessionID  string
	observer   Observer
}

// NewFakeJob returns a FakeJob. cancelIfNotStartedResult fixes what
// CancelIfNotStarted returns, letting a test exercise both halves of
// S7 ("stop before start event").
func NewFakeJob(cancelIfNotStartedResult bool) *FakeJob {
	return &FakeJob{cancelOK: cancelIfNotStartedResult, sessionID: "fake-session"}
}

func (j *FakeJob) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = true
	return nil
}

func (j *FakeJob) Stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
}

func (j *FakeJob) CancelIfNotStarted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelOK {
		j.cancelled = true
	}
	return j.cancelOK
}

func (j *FakeJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *FakeJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *FakeJob) ChangesProcessed() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processed
}

func (j *FakeJob) ChangesTotal() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}

func (j *FakeJob) SessionID() string {
	return j.sessionID
}

func (j *FakeJob) Subscribe(o Observer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.observer != nil {
		return ErrAlreadySubscribed
	}
	j.observer = o
	return nil
}

// EmitStarted simulates the transport announcing it is running.
func (j *FakeJob) EmitStarted() {
	j.mu.Lock()
	j.running = true
	obs := j.observer
	j.mu.Unlock()
	if obs != nil {
		obs.OnTransportEvent(EventStarted, j)
	}
}

// EmitProgress simulates a progress update and fires the observer.
func (j *FakeJob) EmitProgress(processed, total int64) {
	j.mu.Lock()
	j.running = true
	j.processed = processed
	j.total = total
	obs := j.observer
	j.mu.Unlock()
	if obs != nil {
		obs.OnTransportEvent(EventProgress, j)
	}
}

// EmitStopped simulates job completion, optionally with an error.
func (j *FakeJob) EmitStopped(err error) {
	j.mu.Lock()
	j.running = false
	j.err = err
	obs := j.observer
	j.mu.Unlock()
	if obs != nil {
		obs.OnTransportEvent(EventStopped, j)
	}
}
