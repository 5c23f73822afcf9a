// Package wstransport is a reference Transport implementation that
// streams replication lifecycle events over a gorilla/websocket
// connection. It is explicitly not a CouchDB wire-protocol client: the
// frame format is a minimal internal JSON envelope
// ({type, seq, total, processed, error}), not a `_changes` feed.
//
// Grounded on the read-pump/ping-ticker shape of
// ipiton-alert-history-service's WebSocketHub (silence_ws.go), adapted
// from "server accepting many browser clients" to "client dialing one
// remote replication endpoint".
//
// When Config carries credentials, a 401 on the initial dial triggers a
// POST /_session exchange and one retry with the resulting AuthSession
// cookie attached, via the cookie-session interceptor (replconfig).
package wstransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/transport"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// frameType mirrors the Event values in internal/transport on the wire.
type frameType string

const (
	frameStarted  frameType = "started"
	frameProgress frameType = "progress"
	frameStopped  frameType = "stopped"
)

// frame is the envelope exchanged over the wire. Error is a plain string:
// the remote side is not expected to understand this module's tagged
// error types.
type frame struct {
	Type      frameType `json:"type"`
	Seq       int64     `json:"seq"`
	Total     int64     `json:"total"`
	Processed int64     `json:"processed"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Job implements transport.Job over a websocket.Conn.
type Job struct {
	dialURL    string
	sessionURL string

	// session and sessionIC are nil unless cfg had both Username and
	// Password set. session.SetSessionCookie reports a negotiated cookie
	// back to the interceptor; sessionIC.OnRequest replays it onto header.
	session   *replconfig.CookieSessionInterceptor
	sessionIC replconfig.Interceptor

	mu        sync.Mutex
	header    http.Header
	conn      *websocket.Conn
	observer  transport.Observer
	running   bool
	err       error
	processed int64
	total     int64
	sessionID string
	cancelled bool
	stopped   bool

	done chan struct{}
}

var _ transport.Job = (*Job)(nil)

// New is the transport.Factory for the websocket reference transport. It
// builds the dial URL and header set from cfg, applying cfg's interceptor
// chain (user-supplied, then the auto-added cookie-session interceptor) to
// the handshake request.
func New(local, remote string, cfg replconfig.Config, opts transport.Options) (transport.Job, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("wstransport: invalid remote URL: %w", err)
	}
	// CouchDB's session endpoint lives at the server root, not under the
	// database path this job otherwise dials.
	sessionURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/_session"}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	for k, v := range cfg.OptionalHeaders {
		header[k] = v
	}
	for k, v := range opts.RequestHeaders {
		header[k] = v
	}

	// The interceptor chain is defined over *http.Request, not a websocket
	// handshake; synthesize a throwaway request carrying the same header
	// set so every interceptor's OnRequest still gets a chance to mutate
	// it (e.g. adding a cookie-session Cookie header) before the real
	// dial happens.
	handshake := &http.Request{Header: header}
	for _, ic := range cfg.HTTPInterceptors {
		if ic.OnRequest == nil {
			continue
		}
		if err := ic.OnRequest(handshake); err != nil {
			return nil, fmt.Errorf("wstransport: interceptor %q: %w", ic.Name, err)
		}
	}

	var session *replconfig.CookieSessionInterceptor
	var sessionIC replconfig.Interceptor
	if ic, s, ok := cfg.SessionInterceptor(); ok {
		sessionIC, session = ic, s
		if err := sessionIC.OnRequest(handshake); err != nil {
			return nil, fmt.Errorf("wstransport: interceptor %q: %w", sessionIC.Name, err)
		}
	}

	return &Job{
		dialURL:    u.String(),
		sessionURL: sessionURL.String(),
		session:    session,
		sessionIC:  sessionIC,
		header:     handshake.Header,
		done:       make(chan struct{}),
	}, nil
}

func (j *Job) Subscribe(o transport.Observer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.observer != nil {
		return transport.ErrAlreadySubscribed
	}
	j.observer = o
	return nil
}

func (j *Job) Start(ctx context.Context) error {
	conn, resp, err := j.dial(ctx)
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized && j.session != nil {
		if nerr := j.negotiateSession(ctx); nerr != nil {
			return fmt.Errorf("wstransport: session negotiation: %w", nerr)
		}
		conn, _, err = j.dial(ctx)
	}
	if err != nil {
		return fmt.Errorf("wstransport: dial %s: %w", j.dialURL, err)
	}

	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	j.conn = conn
	j.mu.Unlock()

	go j.readPump()
	go j.pingLoop()
	return nil
}

func (j *Job) dial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	j.mu.Lock()
	header := j.header.Clone()
	j.mu.Unlock()
	return dialer.DialContext(ctx, j.dialURL, header)
}

// negotiateSession exchanges Username/Password for a CouchDB AuthSession
// cookie via POST /_session, caches it on the cookie-session interceptor,
// and replays it onto the header the next dial attempt will use.
func (j *Job) negotiateSession(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"name":     j.session.Username,
		"password": j.session.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.sessionURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", j.sessionURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %s", j.sessionURL, resp.Status)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "AuthSession" {
			cookie = c
			break
		}
	}
	if cookie == nil {
		return fmt.Errorf("POST %s: response carried no AuthSession cookie", j.sessionURL)
	}
	j.session.SetSessionCookie(cookie)

	replay := &http.Request{Header: j.header.Clone()}
	if err := j.sessionIC.OnRequest(replay); err != nil {
		return err
	}
	j.mu.Lock()
	j.header = replay.Header
	j.mu.Unlock()
	return nil
}

func (j *Job) readPump() {
	defer close(j.done)

	j.conn.SetReadDeadline(time.Now().Add(pongWait))
	j.conn.SetPongHandler(func(string) error {
		j.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := j.conn.ReadJSON(&f); err != nil {
			j.mu.Lock()
			j.running = false
			if j.err == nil && !j.stopped {
				j.err = fmt.Errorf("wstransport: connection lost: %w", err)
			}
			obs := j.observer
			j.mu.Unlock()
			if obs != nil {
				obs.OnTransportEvent(transport.EventStopped, j)
			}
			return
		}
		j.applyFrame(f)
	}
}

func (j *Job) applyFrame(f frame) {
	j.mu.Lock()
	if f.SessionID != "" {
		j.sessionID = f.SessionID
	}
	j.processed = f.Processed
	j.total = f.Total
	if f.Error != "" {
		j.err = fmt.Errorf("wstransport: remote reported error: %s", f.Error)
	}
	switch f.Type {
	case frameStarted, frameProgress:
		j.running = true
	case frameStopped:
		j.running = false
	}
	ev := transport.EventProgress
	switch f.Type {
	case frameStarted:
		ev = transport.EventStarted
	case frameStopped:
		ev = transport.EventStopped
	}
	obs := j.observer
	j.mu.Unlock()

	if obs != nil {
		obs.OnTransportEvent(ev, j)
	}
}

func (j *Job) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.mu.Lock()
			conn := j.conn
			j.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (j *Job) Stop() {
	j.mu.Lock()
	j.stopped = true
	conn := j.conn
	j.mu.Unlock()
	if conn != nil {
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
}

func (j *Job) CancelIfNotStarted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn != nil {
		return false
	}
	j.cancelled = true
	return true
}

func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) ChangesProcessed() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processed
}

func (j *Job) ChangesTotal() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}

func (j *Job) SessionID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sessionID
}

// marshalFrame encodes a frame; the fake remote server in job_test.go uses
// it to exercise a real dial.
func marshalFrame(f frame) ([]byte, error) {
	return json.Marshal(f)
}
