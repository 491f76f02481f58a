package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/profile"
	"github.com/hitoshi/ebridge/internal/session"
)

func authenticatedChain(portal *testPortal, next http.Handler) http.Handler {
	return NewSessionMiddleware(portal.manager, SessionConfig{})(NewRequireAuthenticated(5 * time.Second)(next))
}

func TestRequireAuthenticated_Anonymous_Returns401(t *testing.T) {
	portal := newTestPortal(t)
	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/app", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if n := portal.manager.Len(); n != 0 {
		t.Errorf("runtimes = %d, want 0", n)
	}
}

func TestRequireAuthenticated_ManagerClosed_Returns500(t *testing.T) {
	portal := newTestPortal(t)
	portal.manager.Close()
	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	id, _ := session.NewID()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), id))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestRequireAuthenticated_SignedIn_InjectsState(t *testing.T) {
	portal := newTestPortal(t, clientProfile("u-1"))
	id := portal.signIn(t, "u-1", "marco.rossi@email.com")

	var userID string
	var state bootstrap.State
	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
		state, _ = StateFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/app", nil), id))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if userID != "u-1" {
		t.Errorf("userID = %q, want %q", userID, "u-1")
	}
	if state.IsLoading {
		t.Error("state should be settled")
	}
	if state.Profile == nil || state.Profile.Role != model.RoleClient {
		t.Errorf("profile = %+v, want client profile", state.Profile)
	}
}

func TestRequireAuthenticated_NoRuntime_Returns401(t *testing.T) {
	handler := NewRequireAuthenticated(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/app", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAuthenticated_NotSettled_Returns503(t *testing.T) {
	svc := backend.NewService(backend.Config{URL: "http://127.0.0.1:1", AnonKey: "anon", Timeout: time.Second}, backend.NewMemoryStorage())
	client := svc.NewClient("pending")
	// Startしないため読み込み中のまま
	rt := &session.Runtime{
		ID:        "pending",
		Client:    client,
		Bootstrap: bootstrap.New(client, profile.NewResolver(profile.NewMemoryStore(), nil, nil), nil, nil),
	}

	handler := NewRequireAuthenticated(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/app", nil)
	req = req.WithContext(ContextWithRuntime(req.Context(), rt))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
}

func TestRequireRole(t *testing.T) {
	portal := newTestPortal(t, clientProfile("u-client"), adminProfile("u-admin"))
	clientID := portal.signIn(t, "u-client", "marco.rossi@email.com")
	adminID := portal.signIn(t, "u-admin", "admin@ebridge.ee")

	handler := authenticatedChain(portal, NewRequireRole(model.RoleAdmin, profile.BuiltinDefaults())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	tests := []struct {
		name      string
		sessionID string
		want      int
	}{
		{"admin", adminID, http.StatusNoContent},
		{"client", clientID, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/admin/overview", nil), tt.sessionID))
			if w.Result().StatusCode != tt.want {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.want)
			}
		})
	}
}

func TestRequireRole_WithoutState_Returns401(t *testing.T) {
	handler := NewRequireRole(model.RoleAdmin, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
