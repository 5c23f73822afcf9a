// Package transport defines the external collaborator a Controller drives:
// a single push or pull replication job that streams started/progress/
// stopped lifecycle events back to its observer.
//
// Grounded on the Transport surface consumed by the teacher's
// internal/rpc client (internal/rpc/client.go): a long-lived connection
// object with a debug-gated progress trace and an explicit stop path,
// adapted here from "RPC call in flight" to "replication job in flight".
package transport

import (
	"context"
	"errors"

	"github.com/mobilesync/replicore/internal/filterbridge"
	"github.com/mobilesync/replicore/internal/replconfig"
)

// ErrAlreadySubscribed is returned by Job.Subscribe if a job only supports
// a single observer and one is already installed.
var ErrAlreadySubscribed = errors.New("transport: job already has an observer")

// Event identifies which lifecycle callback fired.
type Event int

const (
	EventStarted Event = iota
	EventProgress
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer receives lifecycle events from a Job. Controller is the sole
// production implementation; tests may install their own.
type Observer interface {
	OnTransportEvent(Event, Job)
}

// Job is a single push or pull replication job in flight. Controller
// calls Start/Stop/CancelIfNotStarted and reads the properties below
// under its own mutex discipline — Job implementations must be safe for
// concurrent property reads while a goroutine may be emitting events.
type Job interface {
	// Start begins the job. ctx bounds the job's own internal work; it is
	// not used to request cooperative cancellation (that's Stop).
	Start(ctx context.Context) error
	Stop()
	// CancelIfNotStarted aborts construction-time work before the job has
	// reached the running state. Returns true if the cancellation landed
	// before any "started" event could fire.
	CancelIfNotStarted() bool

	Running() bool
	Err() error
	ChangesProcessed() int64
	ChangesTotal() int64
	SessionID() string

	// Subscribe installs the sole observer for this job's events.
	Subscribe(Observer) error
}

// Options carries the per-job parameters that are independent of
// authentication and interceptors (those live on replconfig.Config, which
// the Factory receives alongside Options and resolves itself).
type Options struct {
	Push         bool
	Continuous   bool
	FilterName   string
	FilterParams filterbridge.Params
	PushFilter   filterbridge.TransportFilter
	RequestHeaders map[string][]string
	Reset        bool
}

// Factory constructs a Job bound to local/remote, applying cfg's resolved
// interceptor chain. A Factory implementation corresponds to one wire
// protocol (e.g. the websocket reference transport in internal/wstransport).
type Factory func(local, remote string, cfg replconfig.Config, opts Options) (Job, error)
