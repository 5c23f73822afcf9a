package replconfig

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mobilesync/replicore/internal/filterbridge"
	"github.com/mobilesync/replicore/internal/revtree"
)

func validConfig() Config {
	return Config{
		Direction: Push,
		Local:     "local-db",
		Remote:    "https://example.com/remote-db",
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingRemote(t *testing.T) {
	c := validConfig()
	c.Remote = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing remote")
	}
}

func TestValidateRejectsMalformedRemoteURL(t *testing.T) {
	c := validConfig()
	c.Remote = "not a url"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for malformed remote URL")
	}
}

func TestValidateRejectsForbiddenHeader(t *testing.T) {
	c := validConfig()
	c.OptionalHeaders = http.Header{"Cookie": {"sid=1"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for forbidden header")
	}
}

func TestValidateRejectsControlCharsInHeaderValue(t *testing.T) {
	c := validConfig()
	c.OptionalHeaders = http.Header{"X-Custom": {"bad\x00value"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for control characters in header value")
	}
}

func TestValidateRejectsPushFilterOnPull(t *testing.T) {
	c := validConfig()
	c.Direction = Pull
	c.PushFilter = func(_ revtree.RevisionView, _ filterbridge.Params) bool { return true }
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for push_filter on a pull config")
	}
}

func TestValidateRejectsFilterNameOnPush(t *testing.T) {
	c := validConfig()
	c.FilterName = "only_even"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for filter_name on a push config")
	}
}

func TestHasCredentialsRequiresBoth(t *testing.T) {
	c := validConfig()
	c.Username = "alice"
	if c.HasCredentials() {
		t.Fatal("expected HasCredentials false without password")
	}
	c.Password = "secret"
	if !c.HasCredentials() {
		t.Fatal("expected HasCredentials true with both set")
	}
}

func TestResolvedInterceptorsAppendsCookieSessionLast(t *testing.T) {
	c := validConfig()
	c.Username, c.Password = "alice", "secret"
	c.HTTPInterceptors = []Interceptor{{Name: "user-defined"}}

	chain := c.ResolvedInterceptors()
	if len(chain) != 2 {
		t.Fatalf("expected 2 interceptors, got %d", len(chain))
	}
	if chain[0].Name != "user-defined" {
		t.Fatalf("expected user interceptor first, got %q", chain[0].Name)
	}
	if chain[1].Name != "cookie-session" {
		t.Fatalf("expected cookie-session interceptor last, got %q", chain[1].Name)
	}
}

func TestResolvedInterceptorsOmitsCookieSessionWithoutCredentials(t *testing.T) {
	c := validConfig()
	chain := c.ResolvedInterceptors()
	if len(chain) != 0 {
		t.Fatalf("expected no interceptors, got %d", len(chain))
	}
}

func TestResolvedInterceptorsDoesNotMutateConfig(t *testing.T) {
	c := validConfig()
	c.Username, c.Password = "alice", "secret"
	c.HTTPInterceptors = []Interceptor{{Name: "user-defined"}}

	_ = c.ResolvedInterceptors()
	if len(c.HTTPInterceptors) != 1 {
		t.Fatalf("expected original HTTPInterceptors untouched, got %d entries", len(c.HTTPInterceptors))
	}
}

func TestSessionInterceptorRequiresBothCredentials(t *testing.T) {
	c := validConfig()
	if _, _, ok := c.SessionInterceptor(); ok {
		t.Fatal("expected no session interceptor without credentials")
	}
}

func TestSessionInterceptorReturnsDrivableHandle(t *testing.T) {
	c := validConfig()
	c.Username, c.Password = "alice", "secret"

	ic, session, ok := c.SessionInterceptor()
	if !ok {
		t.Fatal("expected a session interceptor with credentials set")
	}
	if session.Username != "alice" || session.Password != "secret" {
		t.Fatalf("expected session handle to carry the credentials, got %+v", session)
	}

	session.SetSessionCookie(&http.Cookie{Name: "AuthSession", Value: "tok"})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if err := ic.OnRequest(req); err != nil {
		t.Fatalf("OnRequest: %v", err)
	}
	cookie, err := req.Cookie("AuthSession")
	if err != nil || cookie.Value != "tok" {
		t.Fatal("expected the negotiated cookie to be replayed by the returned interceptor")
	}
}
