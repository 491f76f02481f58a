// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
)

// SignInFailureRecorder はサインイン失敗を記録する。metrics.Collectorが実装する。
type SignInFailureRecorder interface {
	RecordSignInFailure(method string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL          string
	OAuthProvider    string
	OAuthRedirectURL string
	SettleTimeout    time.Duration
}

// AuthHandler はログイン、登録、ログアウトのHTTPハンドラー。
// 操作はWebセッションのBootstrapに委譲し、状態は認証イベント経由でのみ更新される。
type AuthHandler struct {
	config   AuthHandlerConfig
	app      *AppHandler
	failures SignInFailureRecorder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(config AuthHandlerConfig, app *AppHandler, failures SignInFailureRecorder) *AuthHandler {
	return &AuthHandler{
		config:   config,
		app:      app,
		failures: failures,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメールアドレスとパスワードでサインインする。
// 失敗時はバックエンドのメッセージをそのまま返し、状態は未認証のまま。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("email e password sono obbligatori"))
		return
	}

	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}
	if err := rt.Bootstrap.SignIn(r.Context(), email, req.Password); err != nil {
		h.recordFailure("password")
		slog.Warn("sign in failed",
			slog.String("email_domain", emailDomain(email)),
			slog.String("error", err.Error()),
		)
		writeAuthError(w, err)
		return
	}

	state := settle(r.Context(), rt, h.config.SettleTimeout)
	slog.Info("user signed in", slog.String("user_id", userIDOf(state.Identity)))
	writeJSON(w, http.StatusOK, h.app.buildState(state, rt.Navigation.Active()))
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	AcceptTerms     bool   `json:"accept_terms"`
}

type registerResponse struct {
	appStateResponse
	ConfirmationRequired bool `json:"confirmation_required"`
}

// Register はユーザーを登録する。パスワード確認の一致と利用規約への同意を
// バックエンドへの問い合わせ前に検証する。
// メール確認が必要な設定の場合は202を返し、状態は未認証のまま。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("email e password sono obbligatori"))
		return
	}
	if req.Password != req.ConfirmPassword {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewPasswordMismatchError())
		return
	}
	if !req.AcceptTerms {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewTermsNotAcceptedError())
		return
	}

	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}
	name := h.app.sanitizer.Sanitize(req.Name)
	if err := rt.Bootstrap.SignUp(r.Context(), email, req.Password, name); err != nil {
		h.recordFailure("signup")
		slog.Warn("sign up failed",
			slog.String("email_domain", emailDomain(email)),
			slog.String("error", err.Error()),
		)
		writeAuthError(w, err)
		return
	}

	state := settle(r.Context(), rt, h.config.SettleTimeout)
	resp := registerResponse{appStateResponse: h.app.buildState(state, rt.Navigation.Active())}
	if !state.Authenticated() {
		resp.ConfirmationRequired = true
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	slog.Info("user registered", slog.String("user_id", userIDOf(state.Identity)))
	writeJSON(w, http.StatusCreated, resp)
}

// GoogleLogin は外部IdPでのログインを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	target, err := rt.Bootstrap.SignInWithOAuth(r.Context(), h.config.OAuthProvider, h.config.OAuthRedirectURL)
	if err != nil {
		slog.Error("failed to start oauth flow", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Callback はIdPからのリダイレクトを受け、認可コードをセッションに交換する。
// 成功・失敗ともにアプリケーションのトップへリダイレクトし、
// 失敗時はバックエンドのメッセージをauth_errorクエリで伝える。
// GET /auth/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if desc := firstNonEmpty(q.Get("error_description"), q.Get("error")); desc != "" {
		h.recordFailure("oauth")
		slog.Warn("oauth provider returned error", slog.String("error", desc))
		h.redirectWithError(w, r, desc)
		return
	}

	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("codice di autorizzazione mancante"))
		return
	}

	if err := rt.Bootstrap.ExchangeOAuthCode(r.Context(), code); err != nil {
		h.recordFailure("oauth")
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, err.Error())
		return
	}

	http.Redirect(w, r, h.config.BaseURL+"/", http.StatusTemporaryRedirect)
}

// Logout はサインアウトする。
// バックエンドのセッションが既に無効な場合も成功として扱う。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	if err := rt.Bootstrap.SignOut(r.Context()); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewSignOutFailedError())
		return
	}

	state := settle(r.Context(), rt, h.config.SettleTimeout)
	writeJSON(w, http.StatusOK, h.app.buildState(state, rt.Navigation.Active()))
}

func (h *AuthHandler) recordFailure(method string) {
	if h.failures != nil {
		h.failures.RecordSignInFailure(method)
	}
}

func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	target := h.config.BaseURL + "/?auth_error=" + url.QueryEscape(message)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func userIDOf(identity *model.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID
}

// emailDomain はログ出力用にメールアドレスのドメイン部のみを返す。
func emailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return domain
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
