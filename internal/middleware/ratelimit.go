package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/ebridge/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般（req/sec）
	GeneralBurst    int
	AuthRate        rate.Limit    // ログイン・登録（req/sec）
	AuthBurst       int
	CleanupInterval time.Duration // この2倍アクセスのないクライアントは忘れる
}

// DefaultRateLimiterConfig はAPI全般120 req/min、認証操作10 req/minを返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		AuthRate:        rate.Limit(10.0 / 60.0),
		AuthBurst:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool はひとつの制限区分についてクライアントごとのリミッターを持つ。
type limiterPool struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newLimiterPool(name string, limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		name:    name,
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// allow はkeyのトークンを1つ消費できればtrueを返す。
func (p *limiterPool) allow(key string, now time.Time) bool {
	p.mu.Lock()
	c, ok := p.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[key] = c
	}
	c.lastSeen = now
	p.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// sweep はlastSeenがcutoffより前のクライアントを削除し、削除数を返す。
func (p *limiterPool) sweep(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, c := range p.clients {
		if c.lastSeen.Before(cutoff) {
			delete(p.clients, key)
			removed++
		}
	}
	return removed
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// retryAfter は1トークンが補充されるまでの秒数（最低1秒）。
func (p *limiterPool) retryAfter() int {
	if p.limit <= 0 || p.limit == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(p.limit))))
}

// RateLimiter はAPI全般と認証操作の2区分のレート制限を独立に管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	auth    *limiterPool
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は掃除用のゴルーチンを起動する。終了時はStopを呼ぶこと。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool("general", config.GeneralRate, config.GeneralBurst),
		auth:    newLimiterPool("auth", config.AuthRate, config.AuthBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop は掃除用のゴルーチンを止める。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般の制限。SessionMiddlewareの後に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, clientKey)
}

// AuthMiddleware はログイン・登録の制限。API全般とは別枠で、リモートアドレス単位で数える。
// セッションCookieを捨てても枠は変わらない。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth, remoteKey)
}

func (rl *RateLimiter) middleware(pool *limiterPool, keyOf func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if !pool.allow(key, rl.now()) {
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", pool.name),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(pool.retryAfter()))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey はユーザーID、WebセッションID、リモートアドレスの順でクライアントを識別する。
// WebセッションIDは既存の実行時状態を指す場合のみ使う。
func clientKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	if id := SessionIDFromContext(r.Context()); id != "" && sessionEstablished(r.Context()) {
		return "session:" + id
	}
	return remoteKey(r)
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// GeneralLimiterCount は追跡中のクライアント数（API全般）。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.len() }

// AuthLimiterCount は追跡中のクライアント数（認証操作）。
func (rl *RateLimiter) AuthLimiterCount() int { return rl.auth.len() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.CleanupInterval)
	removed := rl.general.sweep(cutoff) + rl.auth.sweep(cutoff)
	if removed > 0 {
		slog.Debug("rate limiter entries swept", slog.Int("removed", removed))
	}
}
