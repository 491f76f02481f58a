// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/session"
)

const sessionCookieName = "ebridge_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストに認証済みユーザーIDを格納するためのキー。
	userIDContextKey    = contextKey("user_id")
	sessionIDContextKey = contextKey("session_id")
	runtimeContextKey   = contextKey("runtime")
	handleContextKey    = contextKey("session_handle")
	stateContextKey     = contextKey("state")
)

// ErrNoRuntime はコンテキストにWebセッションの実行時状態がない場合のエラー。
var ErrNoRuntime = errors.New("session runtime not found in context")

// RuntimeProvider はWebセッションIDから実行時状態を取得する。session.Managerが実装する。
// Lookupは既存のものだけを返し、Getは存在しなければ生成する。
type RuntimeProvider interface {
	Lookup(id string) (*session.Runtime, bool)
	Get(id string) (*session.Runtime, error)
}

// sessionHandle はリクエスト中に実行時状態が必要になった時点で一度だけ取得する。
type sessionHandle struct {
	id       string
	issued   bool // このリクエストでIDを発行した
	known    bool // リクエスト到着時点で実行時状態が存在した
	provider RuntimeProvider

	once sync.Once
	rt   *session.Runtime
	err  error
}

func (h *sessionHandle) runtime() (*session.Runtime, error) {
	h.once.Do(func() {
		if h.rt != nil {
			return
		}
		h.rt, h.err = h.provider.Get(h.id)
	})
	return h.rt, h.err
}

// SessionConfig はWebセッションCookieの設定。
type SessionConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

// NewSessionMiddleware はHTTP Only CookieからWebセッションIDを読み取り、
// 対応する実行時状態を取り出せるようにリクエストコンテキストを設定する。
// Cookieがない場合や形式が不正な場合は新しいIDを発行してCookieに設定する。
// 実行時状態はハンドラーがRuntimeFromContextで要求した時点で生成する。
// 認証の有無は判定しない。
func NewSessionMiddleware(provider RuntimeProvider, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle := &sessionHandle{provider: provider}
			if cookie, err := r.Cookie(sessionCookieName); err == nil && validSessionID(cookie.Value) {
				handle.id = cookie.Value
				handle.rt, handle.known = provider.Lookup(handle.id)
			}

			if handle.id == "" {
				newID, err := session.NewID()
				if err != nil {
					slog.Error("failed to issue session id", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				handle.id = newID
				handle.issued = true
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    newID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.sessionID = handle.id
			}

			ctx := context.WithValue(r.Context(), sessionIDContextKey, handle.id)
			ctx = context.WithValue(ctx, handleContextKey, handle)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validSessionID はIDがsession.NewIDの形式（64桁の16進数）かを判定する。
func validSessionID(id string) bool {
	return validToken(id)
}

// RuntimeFromContext はリクエストコンテキストから実行時状態を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
// まだ存在しない場合はここで生成する。
func RuntimeFromContext(ctx context.Context) (*session.Runtime, error) {
	if rt, ok := ctx.Value(runtimeContextKey).(*session.Runtime); ok && rt != nil {
		return rt, nil
	}
	handle, ok := ctx.Value(handleContextKey).(*sessionHandle)
	if !ok || handle == nil {
		return nil, ErrNoRuntime
	}
	rt, err := handle.runtime()
	if err != nil {
		return nil, fmt.Errorf("failed to get session runtime: %w", err)
	}
	return rt, nil
}

// IsNewSession はこのリクエストでWebセッションIDを発行した場合にtrueを返す。
// 発行直後のセッションは必ず未認証。
func IsNewSession(ctx context.Context) bool {
	handle, ok := ctx.Value(handleContextKey).(*sessionHandle)
	return ok && handle != nil && handle.issued
}

// sessionEstablished はリクエスト到着時点でWebセッションの実行時状態が存在したかを返す。
// Cookieの値だけでは判定しない。
func sessionEstablished(ctx context.Context) bool {
	if rt, ok := ctx.Value(runtimeContextKey).(*session.Runtime); ok && rt != nil {
		return true
	}
	if handle, ok := ctx.Value(handleContextKey).(*sessionHandle); ok && handle != nil {
		return handle.known
	}
	return SessionIDFromContext(ctx) != ""
}

// ContextWithRuntime はコンテキストに実行時状態を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithRuntime(ctx context.Context, rt *session.Runtime) context.Context {
	return context.WithValue(ctx, runtimeContextKey, rt)
}

// SessionIDFromContext はリクエストコンテキストからWebセッションIDを取得する。
// 取得できない場合は空文字列を返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithSessionID はコンテキストにWebセッションIDを注入する。
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, id)
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// StateFromContext は認証ミドルウェアが取得した状態のスナップショットを返す。
func StateFromContext(ctx context.Context) (bootstrap.State, bool) {
	s, ok := ctx.Value(stateContextKey).(bootstrap.State)
	return s, ok
}

// ContextWithState はコンテキストに状態のスナップショットを注入する。
func ContextWithState(ctx context.Context, state bootstrap.State) context.Context {
	return context.WithValue(ctx, stateContextKey, state)
}
