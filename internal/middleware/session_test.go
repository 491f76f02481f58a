package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/ebridge/internal/session"
)

type providerFunc func(id string) (*session.Runtime, error)

func (f providerFunc) Lookup(string) (*session.Runtime, bool) {
	return nil, false
}

func (f providerFunc) Get(id string) (*session.Runtime, error) {
	return f(id)
}

func TestSessionMiddleware_NoCookie_IssuesSession(t *testing.T) {
	portal := newTestPortal(t)
	mw := NewSessionMiddleware(portal.manager, SessionConfig{MaxAge: 3600})

	var captured *session.Runtime
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsNewSession(r.Context()) {
			t.Error("a request without cookie should be a new session")
		}
		rt, err := RuntimeFromContext(r.Context())
		if err != nil {
			t.Errorf("expected runtime in context, got %v", err)
		}
		captured = rt
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/app", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}
	if !validSessionID(cookie.Value) {
		t.Errorf("cookie value %q is not a valid session id", cookie.Value)
	}
	if captured == nil || captured.ID != cookie.Value {
		t.Error("runtime should belong to the issued session id")
	}
}

func TestSessionMiddleware_NoCookie_CreatesRuntimeOnlyWhenNeeded(t *testing.T) {
	portal := newTestPortal(t)
	mw := NewSessionMiddleware(portal.manager, SessionConfig{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/app", nil))
		if len(w.Result().Cookies()) != 1 {
			t.Fatal("each cookieless request should receive a session cookie")
		}
	}

	if n := portal.manager.Len(); n != 0 {
		t.Errorf("runtimes = %d, want 0", n)
	}
}

func TestSessionMiddleware_ExistingCookie_ReusesRuntime(t *testing.T) {
	portal := newTestPortal(t)
	mw := NewSessionMiddleware(portal.manager, SessionConfig{})

	id, _ := session.NewID()
	var runtimes []*session.Runtime
	var established []bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsNewSession(r.Context()) {
			t.Error("a presented cookie should not count as a new session")
		}
		established = append(established, sessionEstablished(r.Context()))
		rt, _ := RuntimeFromContext(r.Context())
		runtimes = append(runtimes, rt)
		if got := SessionIDFromContext(r.Context()); got != id {
			t.Errorf("session id = %q, want %q", got, id)
		}
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/app", nil), id))
		if len(w.Result().Cookies()) != 0 {
			t.Error("no cookie should be issued for an existing session")
		}
	}

	if len(runtimes) != 2 || runtimes[0] != runtimes[1] {
		t.Error("both requests should share the same runtime")
	}
	if len(established) != 2 || established[0] || !established[1] {
		t.Errorf("established = %v, want [false true]", established)
	}
}

func TestSessionMiddleware_MalformedCookie_IsReplaced(t *testing.T) {
	var gotID string
	mw := NewSessionMiddleware(providerFunc(func(id string) (*session.Runtime, error) {
		gotID = id
		return &session.Runtime{ID: id}, nil
	}), SessionConfig{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := RuntimeFromContext(r.Context()); err != nil {
			t.Errorf("RuntimeFromContext: %v", err)
		}
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/", nil), "../../etc/passwd"))

	if gotID == "../../etc/passwd" || !validSessionID(gotID) {
		t.Errorf("malformed id should be replaced, got %q", gotID)
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("a new cookie should be issued")
	}
}

func TestSessionMiddleware_ProviderError_SurfacesOnUse(t *testing.T) {
	calls := 0
	mw := NewSessionMiddleware(providerFunc(func(string) (*session.Runtime, error) {
		calls++
		return nil, errors.New("session manager is closed")
	}), SessionConfig{})

	var first, second error
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, first = RuntimeFromContext(r.Context())
		_, second = RuntimeFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if first == nil || errors.Is(first, ErrNoRuntime) {
		t.Errorf("err = %v, want provider error", first)
	}
	if second == nil {
		t.Error("second call should return the same error")
	}
	if calls != 1 {
		t.Errorf("provider calls = %d, want 1", calls)
	}
}

func TestRuntimeFromContext_Missing(t *testing.T) {
	if _, err := RuntimeFromContext(context.Background()); !errors.Is(err, ErrNoRuntime) {
		t.Errorf("err = %v, want ErrNoRuntime", err)
	}

	rt := &session.Runtime{ID: "x"}
	got, err := RuntimeFromContext(ContextWithRuntime(context.Background(), rt))
	if err != nil || got != rt {
		t.Errorf("RuntimeFromContext = %v, %v", got, err)
	}
}

func TestUserIDFromContext_EmptyContext(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for empty context")
	}
}

func TestUserIDFromContext_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-789")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-789" {
		t.Errorf("userID = %q, want %q", userID, "user-789")
	}
}

func TestValidSessionID(t *testing.T) {
	id, _ := session.NewID()
	tests := []struct {
		in   string
		want bool
	}{
		{id, true},
		{"", false},
		{"abc", false},
		{id[:63] + "z", false},
	}
	for _, tt := range tests {
		if got := validSessionID(tt.in); got != tt.want {
			t.Errorf("validSessionID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
