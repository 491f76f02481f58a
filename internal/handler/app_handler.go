package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/navigation"
	"github.com/hitoshi/ebridge/internal/view"
)

// TextSanitizer は表示用テキストからHTMLを除去する。security.TextSanitizerが実装する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// userResponse はログインユーザーの表示用情報。
type userResponse struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	Role       model.Role      `json:"role"`
	RoleLabel  string          `json:"role_label"`
	KYCStatus  model.KYCStatus `json:"kyc_status"`
	KYCLabel   string          `json:"kyc_label"`
	KYCTone    string          `json:"kyc_tone"`
	Phone      *string         `json:"phone"`
	HasAvatar  bool            `json:"has_avatar"`
	HasProfile bool            `json:"has_profile"`
}

// appStateResponse はGET /api/appのレスポンス。
type appStateResponse struct {
	IsLoading     bool            `json:"is_loading"`
	Authenticated bool            `json:"authenticated"`
	User          *userResponse   `json:"user,omitempty"`
	Section       model.Section   `json:"section"`
	Screen        view.Screen     `json:"screen"`
	Menu          []view.MenuItem `json:"menu,omitempty"`
}

// AppHandler はアプリケーション全体の状態とナビゲーションを扱う。
type AppHandler struct {
	roles         view.RoleSource
	sanitizer     TextSanitizer
	settleTimeout time.Duration
}

// NewAppHandler はAppHandlerを生成する。
func NewAppHandler(roles view.RoleSource, sanitizer TextSanitizer, settleTimeout time.Duration) *AppHandler {
	return &AppHandler{
		roles:         roles,
		sanitizer:     sanitizer,
		settleTimeout: settleTimeout,
	}
}

// State は認証状態、アクティブなセクション、表示する画面を返す。
// 未認証の場合の画面はlogin、確定待ちがタイムアウトした場合はloadingとなる。
// GET /api/app
func (h *AppHandler) State(w http.ResponseWriter, r *http.Request) {
	if middleware.IsNewSession(r.Context()) {
		writeJSON(w, http.StatusOK, h.buildState(bootstrap.State{}, navigation.DefaultSection))
		return
	}

	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	state := settle(r.Context(), rt, h.settleTimeout)
	writeJSON(w, http.StatusOK, h.buildState(state, rt.Navigation.Active()))
}

type navigateRequest struct {
	Section string `json:"section"`
}

// Navigate はアクティブなセクションを切り替える。
// ロールで到達できないセクションを指定した場合もセクションは切り替わり、
// 画面はロールのダッシュボードになる。
// PUT /api/navigation
func (h *AppHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	var req navigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	section, err := rt.Navigation.NavigateTo(req.Section)
	if err != nil {
		if errors.Is(err, model.ErrUnknownSection) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidSectionError(req.Section))
			return
		}
		slog.Error("failed to navigate", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	state, ok := middleware.StateFromContext(r.Context())
	if !ok {
		state = rt.Bootstrap.Snapshot()
	}

	slog.Debug("navigated",
		slog.String("section", string(section)),
	)
	writeJSON(w, http.StatusOK, h.buildState(state, section))
}

// Me は現在のログインユーザーを返す。
// GET /auth/me
func (h *AppHandler) Me(w http.ResponseWriter, r *http.Request) {
	state, ok := middleware.StateFromContext(r.Context())
	if !ok || state.Identity == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, h.buildUser(state))
}

func (h *AppHandler) buildState(state bootstrap.State, section model.Section) appStateResponse {
	resp := appStateResponse{
		IsLoading:     state.IsLoading,
		Authenticated: state.Authenticated(),
		Section:       section,
		Screen:        view.SelectForState(state, section, h.roles),
	}
	if state.IsLoading || state.Identity == nil {
		return resp
	}

	user := h.buildUser(state)
	resp.User = user
	resp.Menu = view.Menu(user.Role)
	return resp
}

func (h *AppHandler) buildUser(state bootstrap.State) *userResponse {
	role := view.ResolveRole(state.Profile, state.Identity.Email, h.roles)

	// プロフィール未確定の間はKYCを審査中として表示する
	kyc := model.KYCPending
	var phone *string
	hasAvatar := false
	if state.Profile != nil {
		kyc = state.Profile.KYCStatus
		phone = state.Profile.Phone
		hasAvatar = state.Profile.AvatarURL != nil && *state.Profile.AvatarURL != ""
	}

	return &userResponse{
		ID:         state.Identity.ID,
		Email:      state.Identity.Email,
		Name:       h.sanitizer.Sanitize(view.DisplayName(state.Profile, state.Identity)),
		Role:       role,
		RoleLabel:  role.Label(),
		KYCStatus:  kyc,
		KYCLabel:   kyc.Label(),
		KYCTone:    kyc.Tone(),
		Phone:      phone,
		HasAvatar:  hasAvatar,
		HasProfile: state.Profile != nil,
	}
}
