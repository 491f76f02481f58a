package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラのpanicを500に変換する。
// http.ErrAbortHandlerはnet/httpに任せるため再panicする。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				attrs := []any{
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				}
				if id := SessionIDFromContext(r.Context()); id != "" {
					attrs = append(attrs, slog.String("session_id", shortSessionID(id)))
				}
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				slog.Error("handler panicked", attrs...)

				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
