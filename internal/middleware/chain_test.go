package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestMiddlewareChain_Session_GETRequest は
// Session -> RequireAuthenticated でGETリクエストが通ることを検証する。
func TestMiddlewareChain_Session_GETRequest(t *testing.T) {
	portal := newTestPortal(t, clientProfile("user-chain-test"))
	id := portal.signIn(t, "user-chain-test", "chain@email.com")

	var capturedUserID string
	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/test", nil), id))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-chain-test" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-chain-test")
	}
}

// TestMiddlewareChain_Session_POSTRequest_WithValidSession は
// 認証済みセッションのPOSTリクエストが通ることを検証する。
func TestMiddlewareChain_Session_POSTRequest_WithValidSession(t *testing.T) {
	portal := newTestPortal(t, clientProfile("user-post-test"))
	id := portal.signIn(t, "user-post-test", "post@email.com")

	handlerCalled := false
	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSessionCookie(httptest.NewRequest(http.MethodPost, "/api/test", nil), id))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}

// TestMiddlewareChain_NoSession_Returns401 は
// セッションがない場合に401が返されることを検証する。
func TestMiddlewareChain_NoSession_Returns401(t *testing.T) {
	portal := newTestPortal(t)

	handler := authenticatedChain(portal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/test", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestMiddlewareChain_LoggingSeesSessionAndUser は外側のログミドルウェアが
// 内側で判明したユーザーIDを出力できることを検証する。
func TestMiddlewareChain_LoggingSeesSessionAndUser(t *testing.T) {
	portal := newTestPortal(t, clientProfile("user-log"))
	id := portal.signIn(t, "user-log", "log@email.com")

	var seen *requestInfo
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestInfoFrom(r.Context())
	})
	chain := NewSessionMiddleware(portal.manager, SessionConfig{})(NewRequireAuthenticated(5 * time.Second)(inner))

	req := withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/app", nil), id)
	info := &requestInfo{}
	req = req.WithContext(contextWithRequestInfo(req.Context(), info))
	chain.ServeHTTP(httptest.NewRecorder(), req)

	if seen != info {
		t.Fatal("request info should be propagated")
	}
	if info.sessionID != id || info.userID != "user-log" {
		t.Errorf("info = %+v", info)
	}
}
