package replconfig

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingRoundTripper struct {
	lastReq *http.Request
}

func (rt *recordingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.lastReq = req
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestRoundTripRunsInterceptorsInOrder(t *testing.T) {
	var order []string
	chain := []Interceptor{
		{
			Name: "first",
			OnRequest: func(req *http.Request) error {
				order = append(order, "first-request")
				return nil
			},
			OnResponse: func(resp *http.Response) error {
				order = append(order, "first-response")
				return nil
			},
		},
		{
			Name: "second",
			OnRequest: func(req *http.Request) error {
				order = append(order, "second-request")
				return nil
			},
			OnResponse: func(resp *http.Response) error {
				order = append(order, "second-response")
				return nil
			},
		},
	}

	base := &recordingRoundTripper{}
	rt := RoundTrip(base, chain)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	want := []string{"first-request", "second-request", "second-response", "first-response"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRoundTripStopsOnRequestError(t *testing.T) {
	base := &recordingRoundTripper{}
	chain := []Interceptor{
		{
			Name: "failing",
			OnRequest: func(req *http.Request) error {
				return errTestRequest
			},
		},
	}
	rt := RoundTrip(base, chain)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error from failing interceptor, got nil")
	}
	if base.lastReq != nil {
		t.Fatal("base round tripper should not have been reached")
	}
}

func TestCookieSessionInterceptorAttachesCachedCookie(t *testing.T) {
	c := &CookieSessionInterceptor{Username: "alice", Password: "secret"}
	c.SetSessionCookie(&http.Cookie{Name: "AuthSession", Value: "tok"})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if err := c.onRequest(req); err != nil {
		t.Fatalf("onRequest: %v", err)
	}

	cookie, err := req.Cookie("AuthSession")
	if err != nil {
		t.Fatalf("expected AuthSession cookie to be attached: %v", err)
	}
	if cookie.Value != "tok" {
		t.Fatalf("cookie value = %q, want %q", cookie.Value, "tok")
	}
}

func TestCookieSessionInterceptorOmitsCookieBeforeNegotiation(t *testing.T) {
	c := &CookieSessionInterceptor{Username: "alice", Password: "secret"}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if err := c.onRequest(req); err != nil {
		t.Fatalf("onRequest: %v", err)
	}
	if _, err := req.Cookie("AuthSession"); err == nil {
		t.Fatal("expected no AuthSession cookie before negotiation")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestRequest = testError("interceptor refused request")
