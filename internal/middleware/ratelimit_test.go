package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/ebridge/internal/model"
)

// testLimiter はバースト分だけ通し、以降は補充されない程度に遅いレートのリミッターを作る。
func testLimiter(t *testing.T, generalBurst, authBurst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:  0.01,
		GeneralBurst: generalBurst,
		AuthRate:     0.01,
		AuthBurst:    authBurst,
	})
	t.Cleanup(rl.Stop)
	return rl
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// hit はreqのクローンをn回送り、各ステータスを返す。
func hit(h http.Handler, req *http.Request, n int) []int {
	statuses := make([]int, n)
	for i := range statuses {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req.Clone(req.Context()))
		statuses[i] = w.Result().StatusCode
	}
	return statuses
}

func userRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/app", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func TestRateLimiter_GeneralBurstThen429(t *testing.T) {
	rl := testLimiter(t, 3, 10)
	h := rl.GeneralMiddleware()(okHandler)

	got := hit(h, userRequest("u-1"), 4)
	want := []int{200, 200, 200, 429}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestRateLimiter_429Response(t *testing.T) {
	rl := testLimiter(t, 1, 10)
	h := rl.GeneralMiddleware()(okHandler)
	hit(h, userRequest("u-1"), 1)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, userRequest("u-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	// 0.01 req/sec なので1トークンの補充に100秒
	if ra := resp.Header.Get("Retry-After"); ra != "100" {
		t.Errorf("Retry-After = %q, want 100", ra)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != model.ErrCodeRateLimited || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimiter_ClientsAreIsolated(t *testing.T) {
	rl := testLimiter(t, 1, 10)
	h := rl.GeneralMiddleware()(okHandler)

	if got := hit(h, userRequest("u-a"), 2); got[1] != http.StatusTooManyRequests {
		t.Fatalf("u-a statuses = %v, want second 429", got)
	}
	if got := hit(h, userRequest("u-b"), 1); got[0] != http.StatusOK {
		t.Errorf("u-b status = %d, want 200", got[0])
	}
	if n := rl.GeneralLimiterCount(); n != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", n)
	}
}

func TestRateLimiter_FallsBackToSessionThenRemoteAddr(t *testing.T) {
	rl := testLimiter(t, 1, 10)
	h := rl.GeneralMiddleware()(okHandler)

	request := func(sessionID, remoteAddr string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/app", nil)
		req.RemoteAddr = remoteAddr
		if sessionID != "" {
			req = req.WithContext(ContextWithSessionID(req.Context(), sessionID))
		}
		return req
	}

	// 未認証でもWebセッション単位で数える
	if got := hit(h, request("session-a", "10.0.0.1:1234"), 2); got[1] != http.StatusTooManyRequests {
		t.Errorf("session-a = %v, want second 429", got)
	}
	if got := hit(h, request("session-b", "10.0.0.1:1234"), 1); got[0] != http.StatusOK {
		t.Errorf("session-b = %v, want 200", got)
	}
	// セッションがなければIP単位。ポートは無視する
	hit(h, request("", "10.0.0.2:1111"), 1)
	if got := hit(h, request("", "10.0.0.2:2222"), 1); got[0] != http.StatusTooManyRequests {
		t.Errorf("same ip other port = %v, want 429", got)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientKey(req); got != "ip:192.0.2.1" {
		t.Errorf("clientKey = %q, want ip:192.0.2.1", got)
	}

	req = req.WithContext(ContextWithSessionID(req.Context(), "s-1"))
	if got := clientKey(req); got != "session:s-1" {
		t.Errorf("clientKey = %q, want session:s-1", got)
	}

	req = req.WithContext(ContextWithUserID(req.Context(), "u-1"))
	if got := clientKey(req); got != "user:u-1" {
		t.Errorf("clientKey = %q, want user:u-1", got)
	}
}

func TestRateLimiter_CookielessRequestsShareRemoteAddrBucket(t *testing.T) {
	portal := newTestPortal(t)
	rl := testLimiter(t, 2, 10)
	h := NewSessionMiddleware(portal.manager, SessionConfig{})(rl.GeneralMiddleware()(okHandler))

	// Cookieを返さないクライアントは毎回新しいIDを受け取るが、枠はIP単位
	req := httptest.NewRequest(http.MethodGet, "/api/app", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	got := hit(h, req, 3)
	if got[0] != 200 || got[1] != 200 || got[2] != 429 {
		t.Errorf("statuses = %v, want [200 200 429]", got)
	}
	if n := portal.manager.Len(); n != 0 {
		t.Errorf("runtimes = %d, want 0", n)
	}
}

func TestRateLimiter_AuthIgnoresSessionID(t *testing.T) {
	rl := testLimiter(t, 10, 2)
	h := rl.AuthMiddleware()(okHandler)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "198.51.100.20:5000"
		req = req.WithContext(ContextWithSessionID(req.Context(), fmt.Sprintf("session-%d", i)))
		statuses = append(statuses, hit(h, req, 1)[0])
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want third 429", statuses)
	}
}

func TestRateLimiter_AuthCountedSeparately(t *testing.T) {
	rl := testLimiter(t, 5, 2)
	general := rl.GeneralMiddleware()(okHandler)
	auth := rl.AuthMiddleware()(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "198.51.100.7:4000"

	if got := hit(auth, req, 3); got[2] != http.StatusTooManyRequests {
		t.Fatalf("auth statuses = %v, want third 429", got)
	}
	// 認証枠を使い切っても一般枠は残っている
	if got := hit(general, req, 1); got[0] != http.StatusOK {
		t.Errorf("general status = %d, want 200", got[0])
	}
	if rl.AuthLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Errorf("counts = auth %d general %d, want 1 1", rl.AuthLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_CleanupForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate: 0.001, GeneralBurst: 1, AuthRate: 0.001, AuthBurst: 1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.GeneralMiddleware()(okHandler)
	hit(h, userRequest("u-idle"), 1)
	now = now.Add(90 * time.Second)
	hit(h, userRequest("u-active"), 1)

	// u-idleは最終アクセスから2分超、u-activeは30秒
	now = now.Add(61 * time.Second)
	rl.cleanup()

	if n := rl.GeneralLimiterCount(); n != 1 {
		t.Fatalf("GeneralLimiterCount = %d, want 1", n)
	}
	if got := hit(h, userRequest("u-active"), 1); got[0] != http.StatusTooManyRequests {
		t.Errorf("u-active should keep its exhausted bucket, got %d", got[0])
	}
}

func TestRateLimiter_InPortalChain(t *testing.T) {
	portal := newTestPortal(t, clientProfile("user-rate-chain"))
	sessionID := portal.signIn(t, "user-rate-chain", "rate@email.com")

	rl := testLimiter(t, 2, 10)
	handler := NewCORSMiddleware("http://localhost:3000")(
		authenticatedChain(portal, rl.GeneralMiddleware()(okHandler)),
	)

	req := withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), sessionID)
	got := hit(handler, req, 3)
	if got[0] != 200 || got[1] != 200 || got[2] != 429 {
		t.Errorf("statuses = %v, want [200 200 429]", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d, want 2/120", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 || cfg.AuthRate <= 0 {
		t.Errorf("auth = %v/%d, want 10/min", cfg.AuthRate, cfg.AuthBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
