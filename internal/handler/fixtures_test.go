package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/document"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/profile"
	"github.com/hitoshi/ebridge/internal/security"
	"github.com/hitoshi/ebridge/internal/session"
)

// --- バックエンドのモック ---

type fakeAccount struct {
	id       string
	password string
}

// fakeBackend はGoTrueとPostgRESTのprofilesテーブルを模したサーバー。
type fakeBackend struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	profiles map[string]model.Profile
	order    []string

	// confirmSignUp がtrueの場合、サインアップはメール確認待ちを返す
	confirmSignUp bool
	// logoutStatus が0以外の場合、ログアウトはそのステータスで失敗する
	logoutStatus int
	// listStatus が0以外の場合、プロフィール一覧はそのステータスで失敗する
	listStatus int

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		accounts: make(map[string]fakeAccount),
		profiles: make(map[string]model.Profile),
	}
	fb.server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) addAccount(email, password, id string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.accounts[email] = fakeAccount{id: id, password: password}
}

func (fb *fakeBackend) addProfile(p model.Profile) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if _, ok := fb.profiles[p.ID]; !ok {
		fb.order = append(fb.order, p.ID)
	}
	fb.profiles[p.ID] = p
}

func (fb *fakeBackend) profileCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.profiles)
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		acc, ok := fb.accounts[body.Email]
		if !ok || acc.password != body.Password {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		json.NewEncoder(w).Encode(tokenBody(acc.id, body.Email))

	case r.URL.Path == "/auth/v1/signup":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if _, exists := fb.accounts[body.Email]; exists {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{
				"error_code": "user_already_exists",
				"msg":        "User already registered",
			})
			return
		}
		id := "u-" + strings.Split(body.Email, "@")[0]
		fb.accounts[body.Email] = fakeAccount{id: id, password: body.Password}
		if fb.confirmSignUp {
			json.NewEncoder(w).Encode(map[string]string{"id": id, "email": body.Email})
			return
		}
		json.NewEncoder(w).Encode(tokenBody(id, body.Email))

	case r.URL.Path == "/auth/v1/logout":
		if fb.logoutStatus != 0 {
			w.WriteHeader(fb.logoutStatus)
			json.NewEncoder(w).Encode(map[string]string{"msg": "logout failed"})
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/auth/v1/health":
		json.NewEncoder(w).Encode(map[string]string{"name": "GoTrue"})

	case r.URL.Path == "/rest/v1/profiles" && r.Method == http.MethodGet:
		if id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq."); id != "" {
			p, ok := fb.profiles[id]
			if !ok {
				w.WriteHeader(http.StatusNotAcceptable)
				json.NewEncoder(w).Encode(map[string]string{"code": "PGRST116", "message": "no rows"})
				return
			}
			json.NewEncoder(w).Encode(p)
			return
		}
		if fb.listStatus != 0 {
			w.WriteHeader(fb.listStatus)
			json.NewEncoder(w).Encode(map[string]string{"message": "list failed"})
			return
		}
		rows := make([]model.Profile, 0, len(fb.order))
		for i := len(fb.order) - 1; i >= 0; i-- {
			rows = append(rows, fb.profiles[fb.order[i]])
		}
		json.NewEncoder(w).Encode(rows)

	case r.URL.Path == "/rest/v1/profiles" && r.Method == http.MethodPost:
		var p model.Profile
		json.NewDecoder(r.Body).Decode(&p)
		if _, exists := fb.profiles[p.ID]; exists {
			json.NewEncoder(w).Encode([]model.Profile{})
			return
		}
		fb.profiles[p.ID] = p
		fb.order = append(fb.order, p.ID)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]model.Profile{p})

	default:
		http.NotFound(w, r)
	}
}

func tokenBody(id, email string) map[string]any {
	return map[string]any{
		"access_token":  "access-" + id,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + id,
		"user": map[string]any{
			"id":    id,
			"email": email,
			"app_metadata": map[string]string{
				"provider": "email",
			},
		},
	}
}

// --- アバター取得のモック ---

type fakeAvatarFetcher struct {
	avatar *security.Avatar
	err    error
	gotURL string
}

func (f *fakeAvatarFetcher) Fetch(_ context.Context, rawURL string) (*security.Avatar, error) {
	f.gotURL = rawURL
	if f.err != nil {
		return nil, f.err
	}
	return f.avatar, nil
}

// --- サインイン失敗の記録 ---

type fakeMetrics struct {
	mu       sync.Mutex
	failures []string
	statuses []int
}

func (m *fakeMetrics) RecordSignInFailure(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, method)
}

func (m *fakeMetrics) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *fakeMetrics) RecordRequestLatency(time.Duration) {}

// --- ルーター構築ヘルパー ---

type testEnv struct {
	backend *fakeBackend
	manager *session.Manager
	avatars *fakeAvatarFetcher
	metrics *fakeMetrics
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fb := newFakeBackend(t)
	svc := backend.NewService(backend.Config{URL: fb.server.URL, AnonKey: "anon", Timeout: 2 * time.Second}, backend.NewMemoryStorage())
	defaults := profile.BuiltinDefaults()
	m := session.NewManager(svc, defaults)
	t.Cleanup(m.Close)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env := &testEnv{
		backend: fb,
		manager: m,
		avatars: &fakeAvatarFetcher{},
		metrics: &fakeMetrics{},
	}
	env.router = NewRouter(&RouterDeps{
		Runtimes:          m,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		SettleTimeout:     5 * time.Second,
		Backend:           svc,
		Metrics:           env.metrics,
		Roles:             defaults,
		AuthConfig: AuthHandlerConfig{
			BaseURL:          "http://localhost:3000",
			OAuthProvider:    "google",
			OAuthRedirectURL: "http://localhost:8080/auth/callback",
			SettleTimeout:    5 * time.Second,
		},
		Documents: document.NewService(nil),
		Avatars:   env.avatars,
		Sanitizer: security.NewTextSanitizer(),
	})
	return env
}

// browser はCookieを保持してルーターへリクエストを送るテスト用クライアント。
type browser struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (e *testEnv) newBrowser(t *testing.T) *browser {
	return &browser{t: t, env: e, cookies: make(map[string]*http.Cookie)}
}

// do はリクエストを送信する。状態変更メソッドにはCSRFトークンを付与する。
func (b *browser) do(method, path string, body any) *http.Response {
	b.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			b.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		token := b.csrfToken()
		req.Header.Set("X-CSRF-Token", token)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.env.router.ServeHTTP(w, req)
	resp := w.Result()
	for _, c := range resp.Cookies() {
		b.cookies[c.Name] = c
	}
	return resp
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	if c, ok := b.cookies["csrf_token"]; ok {
		return c.Value
	}
	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()
	b.env.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	c, ok := b.cookies["csrf_token"]
	if !ok {
		b.t.Fatal("csrf token cookie was not issued")
	}
	return c.Value
}

// login はアカウントを登録してサインインする。
func (b *browser) login(email, password, id string) {
	b.t.Helper()
	b.env.backend.addAccount(email, password, id)
	resp := b.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("login status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func decodeAPIError(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, resp)
}

var errFetch = errors.New("fetch failed")

func clientProfile(id string) model.Profile {
	return model.Profile{
		ID:        id,
		FullName:  model.StringPtr("Marco Rossi"),
		KYCStatus: model.KYCApproved,
		Role:      model.RoleClient,
	}
}

func adminProfile(id string) model.Profile {
	return model.Profile{
		ID:        id,
		FullName:  model.StringPtr("Amministratore E-Bridge"),
		KYCStatus: model.KYCApproved,
		Role:      model.RoleAdmin,
	}
}
