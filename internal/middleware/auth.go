package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/view"
)

// DefaultSettleTimeout は認証状態の確定を待つ既定の上限時間。
const DefaultSettleTimeout = 10 * time.Second

// NewRequireAuthenticated は認証済みのWebセッションのみを通すミドルウェアを返す。
// 初回のセッション確認とプロフィール解決の完了を待ってから判定し、
// 状態のスナップショットとユーザーIDをコンテキストに注入する。
func NewRequireAuthenticated(settleTimeout time.Duration) func(next http.Handler) http.Handler {
	if settleTimeout <= 0 {
		settleTimeout = DefaultSettleTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsNewSession(r.Context()) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			rt, err := RuntimeFromContext(r.Context())
			if errors.Is(err, ErrNoRuntime) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if err != nil {
				slog.Error("failed to get session runtime", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
			err = rt.Bootstrap.WaitSettled(ctx)
			cancel()
			if err != nil {
				slog.Warn("auth state did not settle",
					slog.String("session_id", shortSessionID(rt.ID)),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewBackendUnavailableError())
				return
			}

			state := rt.Bootstrap.Snapshot()
			if !state.Authenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = state.Identity.ID
			}

			reqCtx := ContextWithState(r.Context(), state)
			reqCtx = ContextWithUserID(reqCtx, state.Identity.ID)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
}

// NewRequireRole は指定ロールのユーザーのみを通すミドルウェアを返す。
// NewRequireAuthenticatedの後に配置する。ロールはプロフィール、予約表の順に決定する。
func NewRequireRole(role model.Role, roles view.RoleSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, ok := StateFromContext(r.Context())
			if !ok || state.Identity == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if view.ResolveRole(state.Profile, state.Identity.Email, roles) != role {
				slog.Warn("role check failed",
					slog.String("user_id", state.Identity.ID),
					slog.String("required_role", string(role)),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// shortSessionID はログ出力用にセッションIDの先頭8文字を返す。
func shortSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
