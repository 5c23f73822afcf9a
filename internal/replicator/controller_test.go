package replicator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/transport"
)

type recordingDelegate struct {
	mu                                        sync.Mutex
	stateChanges, progressChanges, completes  int
	errors                                    []error
}

func (d *recordingDelegate) DidChangeState(*Controller) {
	d.mu.Lock()
	d.stateChanges++
	d.mu.Unlock()
}
func (d *recordingDelegate) DidChangeProgress(*Controller) {
	d.mu.Lock()
	d.progressChanges++
	d.mu.Unlock()
}
func (d *recordingDelegate) DidComplete(*Controller) {
	d.mu.Lock()
	d.completes++
	d.mu.Unlock()
}
func (d *recordingDelegate) DidError(_ *Controller, err error) {
	d.mu.Lock()
	d.errors = append(d.errors, err)
	d.mu.Unlock()
}

func (d *recordingDelegate) snapshot() (int, int, int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateChanges, d.progressChanges, d.completes, len(d.errors)
}

func factoryReturning(job *transport.FakeJob, err error) transport.Factory {
	return func(_, _ string, _ replconfig.Config, _ transport.Options) (transport.Job, error) {
		return job, err
	}
}

func newTestController(job *transport.FakeJob, err error) *Controller {
	cfg := replconfig.Config{Direction: replconfig.Push, Local: "local", Remote: "https://example.com/db"}
	return New(cfg, factoryReturning(job, err), transport.Options{Push: true}, nil, "test")
}

// S6: fire-and-forget lifecycle.
func TestControllerFireAndForgetLifecycle(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	delegate := &recordingDelegate{}
	c.SetDelegate(delegate)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateStarted {
		t.Fatalf("expected Started, got %s", c.State())
	}

	job.EmitProgress(50, 100)
	if got := c.ChangesProcessed(); got != 50 {
		t.Fatalf("expected processed 50, got %d", got)
	}
	if got := c.ChangesTotal(); got != 100 {
		t.Fatalf("expected total 100, got %d", got)
	}

	job.EmitStopped(nil)
	if c.State() != StateComplete {
		t.Fatalf("expected Complete, got %s", c.State())
	}
	if err := c.Err(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	_, _, completes, errCount := delegate.snapshot()
	if completes != 1 {
		t.Fatalf("expected did_complete exactly once, got %d", completes)
	}
	if errCount != 0 {
		t.Fatalf("expected no did_error calls, got %d", errCount)
	}
}

// S7a: cancel_if_not_started succeeds.
func TestControllerStopBeforeStartedEventCancels(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	delegate := &recordingDelegate{}
	c.SetDelegate(delegate)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok := c.Stop(); !ok {
		t.Fatal("expected Stop to report success")
	}
	if c.State() != StateStopped {
		t.Fatalf("expected Stopped, got %s", c.State())
	}
	_, _, completes, _ := delegate.snapshot()
	if completes != 0 {
		t.Fatal("did_complete must not fire on a cancelled start")
	}
}

// S7b: cancel_if_not_started fails; controller moves to Stopping and later
// reaches Stopped via the transport's own stopped event.
func TestControllerStopBeforeStartedEventFallsBackToStopping(t *testing.T) {
	job := transport.NewFakeJob(false)
	c := newTestController(job, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok := c.Stop(); !ok {
		t.Fatal("expected Stop to report success when falling back to Stopping")
	}
	if c.State() != StateStopping {
		t.Fatalf("expected Stopping, got %s", c.State())
	}
	job.EmitStopped(nil)
	if c.State() != StateStopped {
		t.Fatalf("expected Stopped, got %s", c.State())
	}
}

func TestControllerStartTwiceFailsWithAlreadyStarted(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected AlreadyStarted error")
	}
	var re *Error
	if !errors.As(err, &re) || re.Code != CodeAlreadyStarted {
		t.Fatalf("expected AlreadyStarted, got %v", err)
	}
	if c.State() != StateStarted {
		t.Fatalf("state must be unaffected by the rejected second start, got %s", c.State())
	}
}

func TestControllerBuildFailureGoesToError(t *testing.T) {
	c := newTestController(nil, errors.New("dial refused"))
	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var re *Error
	if !errors.As(err, &re) || re.Code != CodeTransportInitFailed {
		t.Fatalf("expected TransportInitFailed, got %v", err)
	}
	if c.State() != StateError {
		t.Fatalf("expected Error state, got %s", c.State())
	}
}

func TestControllerStopBetweenConstructionAndStartGoesDirectlyToStopped(t *testing.T) {
	c := newTestController(transport.NewFakeJob(true), nil)
	if ok := c.Stop(); !ok {
		t.Fatal("expected Stop to succeed")
	}
	if c.State() != StateStopped {
		t.Fatalf("expected Stopped, got %s", c.State())
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected subsequent Start to fail")
	}
}

func TestControllerStopOnTerminalIsNoOpAndDoesNotNotify(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	delegate := &recordingDelegate{}
	c.SetDelegate(delegate)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job.EmitStopped(nil)
	if c.State() != StateComplete {
		t.Fatalf("expected Complete, got %s", c.State())
	}

	before, _, _, _ := delegate.snapshot()
	if ok := c.Stop(); !ok {
		t.Fatal("expected Stop on terminal controller to report true")
	}
	after, _, _, _ := delegate.snapshot()
	if before != after {
		t.Fatal("Stop on a terminal controller must not notify the delegate")
	}
}

func TestControllerErrorProjectionHiddenWhileActive(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("expected nil error while active, got %v", err)
	}
}

func TestControllerErrorProjectionRetagsLocalDatastoreDeleted(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transportErr := &Error{Domain: DomainTransport, Code: CodeLocalDatastoreDeleted, Err: errors.New("gone")}
	job.EmitStopped(transportErr)

	if c.State() != StateError {
		t.Fatalf("expected Error, got %s", c.State())
	}
	var re *Error
	if !errors.As(c.Err(), &re) {
		t.Fatalf("expected tagged Error, got %v", c.Err())
	}
	if re.Domain != DomainReplicator || re.Code != CodeLocalDatastoreDeleted {
		t.Fatalf("expected re-tagged replicator/LocalDatastoreDeleted, got %s/%s", re.Domain, re.Code)
	}
}

func TestControllerDidCompleteNotCalledOnErrorPath(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	delegate := &recordingDelegate{}
	c.SetDelegate(delegate)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job.EmitStopped(errors.New("boom"))

	if c.State() != StateError {
		t.Fatalf("expected Error, got %s", c.State())
	}
	_, _, completes, errCount := delegate.snapshot()
	if completes != 0 {
		t.Fatal("did_complete must not fire on the error path")
	}
	if errCount != 1 {
		t.Fatalf("expected did_error exactly once, got %d", errCount)
	}
}

// TestControllerConcurrentStartIsExclusive guards against the guard itself
// racing: the factory blocks until both goroutines have called Start, so if
// the "already started" check were gated on c.state (which stays Pending for
// the whole factory/Subscribe/Start sequence) rather than c.started, both
// goroutines would pass it and build independent jobs.
func TestControllerConcurrentStartIsExclusive(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	var built int32

	factory := func(_, _ string, _ replconfig.Config, _ transport.Options) (transport.Job, error) {
		atomic.AddInt32(&built, 1)
		entered <- struct{}{}
		<-release
		return transport.NewFakeJob(true), nil
	}

	cfg := replconfig.Config{Direction: replconfig.Push, Local: "local", Remote: "https://example.com/db"}
	c := New(cfg, factory, transport.Options{Push: true}, nil, "test")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Start(context.Background())
		}(i)
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first Start to enter the factory")
	}
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&built) != 1 {
		t.Fatalf("expected factory to be invoked exactly once, got %d", built)
	}

	var successes, alreadyStarted int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var re *Error
			if errors.As(err, &re) && re.Code == CodeAlreadyStarted {
				alreadyStarted++
			}
		}
	}
	if successes != 1 || alreadyStarted != 1 {
		t.Fatalf("expected exactly one success and one AlreadyStarted, got %d successes, %d AlreadyStarted (results=%v)", successes, alreadyStarted, results)
	}
}

func TestControllerProgressIgnoredAfterTerminal(t *testing.T) {
	job := transport.NewFakeJob(true)
	c := newTestController(job, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job.EmitStopped(nil)

	job.EmitProgress(999, 999)
	if c.ChangesProcessed() == 999 {
		t.Fatal("progress delivered after terminal state must be ignored")
	}
}
