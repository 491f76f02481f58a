package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/demo"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/session"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("JSON non valido"))
		return false
	}
	return true
}

// runtimeFrom はリクエストのWebセッション実行時状態を返す。
// 取得できない場合は500を書き込み、falseを返す。
func runtimeFrom(w http.ResponseWriter, r *http.Request) (*session.Runtime, bool) {
	rt, err := middleware.RuntimeFromContext(r.Context())
	if err != nil {
		slog.Error("runtime missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return rt, true
}

// workspaceFrom は認証済みユーザーの書類と提案の状態を返す。
// 取得できない場合はエラーを書き込み、falseを返す。
func workspaceFrom(w http.ResponseWriter, r *http.Request) (*demo.Workspace, string, bool) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return nil, "", false
	}
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, "", false
	}
	return rt.Workspace(userID), userID, true
}

// settle は認証状態の確定を待ってスナップショットを返す。
// タイムアウトした場合は読み込み中のスナップショットを返す。
func settle(ctx context.Context, rt *session.Runtime, timeout time.Duration) bootstrap.State {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rt.Bootstrap.WaitSettled(waitCtx); err != nil {
		slog.Warn("auth state did not settle",
			slog.String("error", err.Error()),
		)
	}
	return rt.Bootstrap.Snapshot()
}

// writeAuthError はバックエンドの認証エラーをメッセージを加工せずに返す。
// *backend.AuthError以外は接続エラーとして扱う。
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *backend.AuthError
	if !errors.As(err, &authErr) {
		slog.Error("backend request failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewBackendUnavailableError())
		return
	}
	middleware.WriteErrorResponse(w, authErrorStatus(authErr.Status), model.NewAuthFailedError(authErr.Message))
}

// authErrorStatus はバックエンドのステータスをこのAPIのステータスに変換する。
func authErrorStatus(status int) int {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return http.StatusUnauthorized
	case status == http.StatusUnprocessableEntity || status == http.StatusTooManyRequests:
		return status
	case status >= 500:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// handleWorkspaceError はdemoパッケージのエラーをAPIErrorに変換して書き込む。
func handleWorkspaceError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, demo.ErrDocumentNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewDocumentNotFoundError(id))
	case errors.Is(err, demo.ErrDocumentAlreadyUploaded):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewDocumentAlreadyUploadedError())
	case errors.Is(err, demo.ErrProposalNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProposalNotFoundError(id))
	case errors.Is(err, demo.ErrProposalNotPending):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewProposalNotPendingError())
	case errors.Is(err, demo.ErrConfirmationRequired):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewConfirmationRequiredError())
	case errors.Is(err, demo.ErrEmptyMessage):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewEmptyMessageError())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
