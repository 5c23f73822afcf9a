package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/transport"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type recordingObserver struct {
	events chan transport.Event
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan transport.Event, 16)}
}

func (o *recordingObserver) OnTransportEvent(ev transport.Event, _ transport.Job) {
	o.events <- ev
}

func (o *recordingObserver) waitFor(t *testing.T, ev transport.Event) {
	t.Helper()
	select {
	case got := <-o.events:
		if got != ev {
			t.Fatalf("expected event %s, got %s", ev, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %s", ev)
	}
}

// newFakeRemote starts an httptest server that upgrades to a websocket and
// sends the given frames in order, one per connection.
func newFakeRemote(t *testing.T, frames []frame) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			data, err := marshalFrame(f)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// keep the connection open briefly so the client's read pump can
		// observe the close handshake rather than a reset.
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJobStreamsStartedProgressStopped(t *testing.T) {
	srv := newFakeRemote(t, []frame{
		{Type: frameStarted, SessionID: "sess-1"},
		{Type: frameProgress, Processed: 5, Total: 10},
		{Type: frameStopped, Processed: 10, Total: 10},
	})
	remote := "http" + strings.TrimPrefix(srv.URL, "http")

	cfg := replconfig.Config{Direction: replconfig.Pull, Local: "local", Remote: remote}
	j, err := New("local", remote, cfg, transport.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	obs := newRecordingObserver()
	if err := j.Subscribe(obs); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	obs.waitFor(t, transport.EventStarted)
	obs.waitFor(t, transport.EventProgress)
	obs.waitFor(t, transport.EventStopped)

	if got := j.ChangesProcessed(); got != 10 {
		t.Fatalf("expected processed 10, got %d", got)
	}
	if got := j.SessionID(); got != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", got)
	}
}

func TestJobNegotiatesSessionOn401(t *testing.T) {
	frames := []frame{
		{Type: frameStarted, SessionID: "sess-2"},
		{Type: frameStopped},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/_session", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "AuthSession", Value: "tok-123"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/db", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("AuthSession")
		if err != nil || cookie.Value != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			data, err := marshalFrame(f)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	remote := "http" + strings.TrimPrefix(srv.URL, "http") + "/db"
	cfg := replconfig.Config{
		Direction: replconfig.Pull,
		Local:     "local",
		Remote:    remote,
		Username:  "alice",
		Password:  "secret",
	}
	j, err := New("local", remote, cfg, transport.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	obs := newRecordingObserver()
	if err := j.Subscribe(obs); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	obs.waitFor(t, transport.EventStarted)
	obs.waitFor(t, transport.EventStopped)

	if got := j.SessionID(); got != "sess-2" {
		t.Fatalf("expected session id sess-2, got %q", got)
	}
}

func TestJobCancelIfNotStartedBeforeDial(t *testing.T) {
	cfg := replconfig.Config{Direction: replconfig.Pull, Local: "local", Remote: "https://example.invalid/db"}
	j, err := New("local", "https://example.invalid/db", cfg, transport.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jt := j.(*Job)
	if !jt.CancelIfNotStarted() {
		t.Fatal("expected CancelIfNotStarted to succeed before any dial")
	}
}
