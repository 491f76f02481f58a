package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/ebridge/internal/demo"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
)

// AdminHandler は管理者画面のHTTPハンドラー。
type AdminHandler struct{}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

// Overview は顧客の集計と最近の顧客を返す。
// GET /api/admin/overview
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := demo.Overview()
	if err != nil {
		slog.Error("failed to build admin overview", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type clientsResponse struct {
	Clients []demo.Client `json:"clients"`
	Query   string        `json:"query"`
}

// Clients は顧客一覧を返す。qが指定された場合は氏名またはメールアドレスで絞り込む。
// GET /api/admin/clients?q=
func (h *AdminHandler) Clients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, clientsResponse{
		Clients: demo.SearchClients(q),
		Query:   q,
	})
}

type profileSummary struct {
	ID        string          `json:"id"`
	FullName  *string         `json:"full_name"`
	Role      model.Role      `json:"role"`
	RoleLabel string          `json:"role_label"`
	KYCStatus model.KYCStatus `json:"kyc_status"`
	KYCLabel  string          `json:"kyc_label"`
}

type profilesResponse struct {
	Profiles []profileSummary `json:"profiles"`
}

// Profiles はバックエンドに登録されたプロフィールを返す。
// 閲覧範囲はバックエンドの行レベル権限に従う。
// GET /api/admin/profiles
func (h *AdminHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFrom(w, r)
	if !ok {
		return
	}

	rows, err := rt.Client.Profiles().List(r.Context())
	if err != nil {
		slog.Error("failed to list profiles", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
		return
	}

	resp := profilesResponse{Profiles: make([]profileSummary, 0, len(rows))}
	for _, p := range rows {
		resp.Profiles = append(resp.Profiles, profileSummary{
			ID:        p.ID,
			FullName:  p.FullName,
			Role:      p.Role,
			RoleLabel: p.Role.Label(),
			KYCStatus: p.KYCStatus,
			KYCLabel:  p.KYCStatus.Label(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
