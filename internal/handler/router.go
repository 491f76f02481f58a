package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/view"
)

// MetricsRecorder はHTTPとサインイン失敗のメトリクスを記録する。metrics.Collectorが実装する。
type MetricsRecorder interface {
	middleware.HTTPMetricsRecorder
	SignInFailureRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Runtimes          middleware.RuntimeProvider
	Session           middleware.SessionConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	SettleTimeout     time.Duration

	// 監視
	DB             Pinger
	Backend        BackendHealthChecker
	Metrics        MetricsRecorder
	MetricsHandler http.Handler

	// 認証
	Roles      view.RoleSource
	AuthConfig AuthHandlerConfig

	// 顧客画面
	Documents DocumentPreparer
	Avatars   AvatarFetcher
	Sanitizer TextSanitizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  → Session → RateLimit(General) → CSRF → RequireAuthenticated → RequireRole
//
// /health と /metrics はWebセッションを持たない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Session.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	settleTimeout := deps.SettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = middleware.DefaultSettleTimeout
	}

	var failures SignInFailureRecorder
	if deps.Metrics != nil {
		failures = deps.Metrics
	}

	healthHandler := NewHealthHandler(deps.DB, deps.Backend)
	appHandler := NewAppHandler(deps.Roles, deps.Sanitizer, settleTimeout)
	authHandler := NewAuthHandler(deps.AuthConfig, appHandler, failures)
	clientHandler := NewClientHandler(deps.Documents, deps.Avatars, deps.Sanitizer)
	adminHandler := NewAdminHandler()

	requireAuth := middleware.NewRequireAuthenticated(settleTimeout)

	// --- Webセッション不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- Webセッションを持つルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Runtimes, deps.Session))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
			r.With(requireAuth).Get("/me", appHandler.Me)
		})

		// 未認証でも状態を返す（画面はlogin）
		r.Get("/api/app", appHandler.State)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Put("/api/navigation", appHandler.Navigate)

			// 顧客画面
			r.Get("/api/dashboard", clientHandler.Dashboard)
			r.Get("/api/portfolio", clientHandler.Portfolio)
			r.Get("/api/documents", clientHandler.Documents)
			r.Post("/api/documents/{id}/upload", clientHandler.UploadDocument)
			r.Get("/api/proposals", clientHandler.Proposals)
			r.Post("/api/proposals/{id}/decision", clientHandler.DecideProposal)
			r.Get("/api/chat/messages", clientHandler.ChatMessages)
			r.Post("/api/chat/messages", clientHandler.SendMessage)
			r.Get("/api/profile/avatar", clientHandler.Avatar)

			// 管理者画面
			r.Route("/api/admin", func(r chi.Router) {
				r.Use(middleware.NewRequireRole(model.RoleAdmin, deps.Roles))
				r.Get("/overview", adminHandler.Overview)
				r.Get("/clients", adminHandler.Clients)
				r.Get("/profiles", adminHandler.Profiles)
			})
		})
	})

	return r
}
