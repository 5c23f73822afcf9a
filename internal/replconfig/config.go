// Package replconfig validates and holds a replication session's
// configuration: endpoints, headers, filter selection, credentials, and
// the HTTP interceptor chain. A Config is copied defensively into the
// controller at construction and is read-only thereafter (spec §4.4).
package replconfig

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mobilesync/replicore/internal/filterbridge"
)

// Direction selects push (local -> remote) or pull (remote -> local)
// replication.
type Direction int

const (
	Push Direction = iota
	Pull
)

func (d Direction) String() string {
	if d == Push {
		return "push"
	}
	return "pull"
}

// Interceptor mutates an outgoing request and/or its response. Either
// field may be nil.
type Interceptor struct {
	Name            string
	OnRequest       func(*http.Request) error
	OnResponse      func(*http.Response) error
}

// Config is the validated, immutable descriptor a Controller builds a
// TransportJob from (see internal/replicator).
type Config struct {
	// Direction has no "required" tag: Push is its zero value, so every
	// zero-value-defaulted push Config (the common case) would otherwise
	// fail validation spuriously. Both Direction values are valid on
	// their own; what Validate below checks is the interaction between
	// Direction and FilterName/PushFilter.
	Direction Direction

	// Local names a handle to the local datastore; Remote is the URL of
	// the remote endpoint. Exactly one side is "local" and the other
	// "remote" depending on Direction, but both fields are always
	// required: a replication session always has two endpoints.
	Local  string `validate:"required"`
	Remote string `validate:"required,url"`

	OptionalHeaders http.Header

	FilterName   string
	FilterParams filterbridge.Params

	// PushFilter is only meaningful when Direction == Push.
	PushFilter filterbridge.UserFilter

	Username string
	Password string

	// HTTPInterceptors is the ordered chain the caller supplied. The
	// cookie-session interceptor, if auto-added because Username/Password
	// are set, is appended AFTER these.
	HTTPInterceptors []Interceptor
}

var validate = validator.New()

// forbiddenHeaders may never be set by a caller: they are either computed
// by the transport itself or reserved for the cookie-session interceptor.
var forbiddenHeaders = map[string]bool{
	"Host":             true,
	"Content-Length":   true,
	"Transfer-Encoding": true,
	"Cookie":           true,
}

// Validate checks the struct-tag constraints plus the semantic rules that
// validator tags cannot express: header well-formedness and the
// filter_name/push_filter mutual-exclusivity rule (filter_name selects a
// remote-side filter during pull; push_filter is a local predicate and
// only meaningful for push).
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("replconfig: %w", err)
	}

	for name, values := range c.OptionalHeaders {
		if forbiddenHeaders[http.CanonicalHeaderKey(name)] {
			return fmt.Errorf("replconfig: header %q is not permitted", name)
		}
		for _, v := range values {
			if containsControlChars(name) || containsControlChars(v) {
				return fmt.Errorf("replconfig: header %q has control characters", name)
			}
		}
	}

	if c.Direction == Pull && c.PushFilter != nil {
		return fmt.Errorf("replconfig: push_filter is only valid for push replication")
	}
	if c.Direction == Push && c.FilterName != "" {
		return fmt.Errorf("replconfig: filter_name selects a remote filter and is only valid for pull replication")
	}

	return nil
}

func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return strings.ContainsRune(s, 0)
}

// HasCredentials reports whether Username/Password were both supplied,
// which triggers automatic appending of the cookie-session interceptor.
func (c Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// ResolvedInterceptors returns the interceptor chain the TransportJob
// should install: the user-supplied chain, followed by the auto-added
// cookie-session interceptor if credentials are present (spec §4.4: "the
// cookie interceptor, if auto-added, is appended AFTER user-provided
// interceptors").
func (c Config) ResolvedInterceptors() []Interceptor {
	chain := make([]Interceptor, len(c.HTTPInterceptors))
	copy(chain, c.HTTPInterceptors)
	if ic, _, ok := c.SessionInterceptor(); ok {
		chain = append(chain, ic)
	}
	return chain
}

// SessionInterceptor builds the cookie-session interceptor
// ResolvedInterceptors would append, along with the *CookieSessionInterceptor
// handle a Transport needs to drive negotiation (SetSessionCookie) and to
// replay the resulting cookie (the returned Interceptor's OnRequest). ok is
// false when Username/Password are not both set, in which case no
// cookie-session interceptor applies.
func (c Config) SessionInterceptor() (Interceptor, *CookieSessionInterceptor, bool) {
	if !c.HasCredentials() {
		return Interceptor{}, nil, false
	}
	ic, session := NewCookieSessionInterceptor(c.Username, c.Password)
	return ic, session, true
}
