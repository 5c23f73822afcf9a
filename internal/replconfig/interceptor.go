package replconfig

import (
	"fmt"
	"net/http"
	"sync"
)

// RoundTrip builds an http.RoundTripper that runs base wrapped by chain, in
// order: chain[0].OnRequest runs first, chain[len-1].OnRequest runs last
// (closest to the wire), and OnResponse callbacks unwind in the reverse
// order. This mirrors the server-side Chain helper used for HTTP handler
// middleware, adapted from wrapping http.Handler to wrapping
// http.RoundTripper.
func RoundTrip(base http.RoundTripper, chain []Interceptor) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(chain) - 1; i >= 0; i-- {
		rt = &interceptingTransport{inner: rt, interceptor: chain[i]}
	}
	return rt
}

type interceptingTransport struct {
	inner       http.RoundTripper
	interceptor Interceptor
}

func (t *interceptingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.interceptor.OnRequest != nil {
		if err := t.interceptor.OnRequest(req); err != nil {
			return nil, fmt.Errorf("replconfig: interceptor %q: %w", t.interceptor.Name, err)
		}
	}
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if t.interceptor.OnResponse != nil {
		if err := t.interceptor.OnResponse(resp); err != nil {
			return resp, fmt.Errorf("replconfig: interceptor %q: %w", t.interceptor.Name, err)
		}
	}
	return resp, nil
}

// CookieSessionInterceptor implements the replay half of CouchDB-style
// cookie-session authentication: it attaches whatever AuthSession cookie a
// Transport has negotiated (via SetSessionCookie) onto every outgoing
// request, and caches it until the Transport replaces or clears it. The
// POST /_session exchange itself happens one layer up, in the Transport,
// which has the dial/retry context this interceptor does not.
//
// Grounded on the teacher's username/password-gated code paths in
// internal/rpc (auth header injection before dialing) — generalized here
// from a static header into a lazily-fetched, cached session cookie.
type CookieSessionInterceptor struct {
	Username string
	Password string

	mu     sync.Mutex
	cookie *http.Cookie
}

// NewCookieSessionInterceptor returns the auto-appended interceptor that
// Config.ResolvedInterceptors installs when Username/Password are set,
// along with the underlying *CookieSessionInterceptor. A Transport that
// negotiates a session (POST /_session) keeps that handle to call
// SetSessionCookie once the exchange succeeds, then re-runs the returned
// Interceptor's OnRequest to replay the cookie onto its request.
func NewCookieSessionInterceptor(username, password string) (Interceptor, *CookieSessionInterceptor) {
	c := &CookieSessionInterceptor{Username: username, Password: password}
	return Interceptor{
		Name:       "cookie-session",
		OnRequest:  c.onRequest,
		OnResponse: c.onResponse,
	}, c
}

func (c *CookieSessionInterceptor) onRequest(req *http.Request) error {
	c.mu.Lock()
	cookie := c.cookie
	c.mu.Unlock()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return nil
}

// onResponse does nothing, not even on a 401; it does not negotiate a session: doing
// so needs a second round trip against the remote's /_session endpoint,
// which only a Transport (wstransport.Job drives it over HTTP before
// dialing) has the context to perform. The interceptor's job is to stay a
// pure request/response filter; SetSessionCookie is how the Transport
// reports the outcome back to it.
func (c *CookieSessionInterceptor) onResponse(resp *http.Response) error {
	return nil
}

// SetSessionCookie installs a session cookie negotiated by a Transport
// implementation via POST /_session, to be replayed by onRequest on
// subsequent requests.
func (c *CookieSessionInterceptor) SetSessionCookie(cookie *http.Cookie) {
	c.mu.Lock()
	c.cookie = cookie
	c.mu.Unlock()
}
