// ABOUTME: Tests for the HTTP gate middleware and policy enforcement
// ABOUTME: Covers anonymous passthrough, 401 versus 403 mapping, and path canonicalization

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/authgate/internal/store"
)

// httpTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var httpTestSecret = []byte("http-middleware-test-secret-32b!")

type httpFixture struct {
	codec   *JWTCodec
	handler http.Handler
	reached *bool
}

// newHTTPFixture wires gate -> policy -> handler with the default route table.
func newHTTPFixture(t *testing.T, rules ...RouteRule) *httpFixture {
	t.Helper()
	codec, err := NewJWTCodec(httpTestSecret)
	if err != nil {
		t.Fatalf("NewJWTCodec() error = %v", err)
	}
	principals := &mockPrincipalStore{principal: &store.Principal{ID: "user-123", Username: "alice"}}
	gate := NewGate(codec, principals, discardLogger(), WithClock(func() time.Time { return fixedNow }))

	if len(rules) == 0 {
		rules = DefaultRules()
	}
	policy := mustPolicy(t, rules...)

	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	return &httpFixture{
		codec:   codec,
		handler: gate.Middleware(policy.Enforce(inner)),
		reached: &reached,
	}
}

func (f *httpFixture) do(t *testing.T, method, path, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	*f.reached = false
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) bearer(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	tok, err := f.codec.Issue(subject, fixedNow, ttl)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return "Bearer " + tok
}

func TestGateMiddleware_AttachesIdentity(t *testing.T) {
	codec, _ := NewJWTCodec(httpTestSecret)
	principals := &mockPrincipalStore{principal: &store.Principal{ID: "user-123", Username: "alice"}}
	gate := NewGate(codec, principals, discardLogger(), WithClock(func() time.Time { return fixedNow }))
	tok, _ := codec.Issue("alice", fixedNow, time.Hour)

	var got *Identity
	var gotState State
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		gotState = StateFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.PrincipalID != "user-123" || got.Username != "alice" {
		t.Fatalf("identity = %+v, want alice/user-123", got)
	}
	if gotState != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", gotState)
	}
}

func TestGateMiddleware_AnonymousContinues(t *testing.T) {
	codec, _ := NewJWTCodec(httpTestSecret)
	gate := NewGate(codec, &mockPrincipalStore{}, discardLogger())

	called := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if FromContext(r.Context()) != nil {
			t.Error("expected anonymous request")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("gate must not reject requests on its own")
	}
}

func TestEnforce_ProtectedRouteWithoutToken(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/secure", "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"error":"unauthorized"}` {
		t.Errorf("unexpected body %q", body)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate challenge")
	}
	if *f.reached {
		t.Error("handler should not be called")
	}
}

func TestEnforce_ProtectedRouteWithValidToken(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/secure", f.bearer(t, "alice", time.Hour))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !*f.reached {
		t.Error("handler should be called")
	}
}

func TestEnforce_BadCredentialsAreUnauthorized(t *testing.T) {
	f := newHTTPFixture(t)

	tests := map[string]string{
		"expired":         f.bearer(t, "alice", -time.Second),
		"garbage":         "Bearer not-a-jwt",
		"unknown subject": f.bearer(t, "mallory", time.Hour),
		"wrong scheme":    "Basic YWxpY2U6cHcxMjM=",
	}

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/secure", header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestEnforce_PublicRouteIgnoresBadToken(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", "Bearer not-a-jwt")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestEnforce_AuthenticatedButUnmatchedIsForbidden(t *testing.T) {
	f := newHTTPFixture(t, RouteRule{Pattern: "/auth/**", Requirement: RequirePublic})

	rec := f.do(t, http.MethodGet, "/api/secure", f.bearer(t, "alice", time.Hour))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"error":"forbidden"}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestEnforce_DotSegmentsCannotReachPublicRule(t *testing.T) {
	f := newHTTPFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/auth/../api/secure"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestRequireAuthority(t *testing.T) {
	handler := RequireAuthority(AuthorityUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		id   *Identity
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"missing authority", &Identity{Username: "alice"}, http.StatusForbidden},
		{"granted", &Identity{Username: "alice", Authorities: []string{AuthorityUser}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.id != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.id))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
