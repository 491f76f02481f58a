// Package view はロールとアクティブなセクションから表示する画面を決定する。
// 全ての関数は副作用を持たない。
package view

import (
	"strings"

	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/model"
)

// Screen は表示する画面の識別子。
type Screen string

const (
	ScreenLoading Screen = "loading"
	ScreenLogin   Screen = "login"

	ScreenAdminDashboard Screen = "admin.dashboard"
	ScreenAdminClients   Screen = "admin.clients"
	ScreenAdminProposals Screen = "admin.proposals"
	ScreenAdminDocuments Screen = "admin.documents"
	ScreenAdminSettings  Screen = "admin.settings"

	ScreenClientDashboard Screen = "client.dashboard"
	ScreenClientPortfolio Screen = "client.portfolio"
	ScreenClientDocuments Screen = "client.documents"
	ScreenClientProposals Screen = "client.proposals"
	ScreenClientChat      Screen = "client.chat"
)

// RoleSource はメールアドレスから既定ロールを引く。profile.Defaultsが実装する。
type RoleSource interface {
	RoleFor(email string) model.Role
}

// Select はロールとセクションから画面を決定する。
// ロールで到達できないセクションはそのロールのダッシュボードになる。
func Select(role model.Role, section model.Section) Screen {
	if role == model.RoleAdmin {
		switch section {
		case model.SectionClients:
			return ScreenAdminClients
		case model.SectionProposals:
			return ScreenAdminProposals
		case model.SectionDocuments:
			return ScreenAdminDocuments
		case model.SectionSettings:
			return ScreenAdminSettings
		default:
			return ScreenAdminDashboard
		}
	}

	switch section {
	case model.SectionPortfolio:
		return ScreenClientPortfolio
	case model.SectionDocuments:
		return ScreenClientDocuments
	case model.SectionProposals:
		return ScreenClientProposals
	case model.SectionChat:
		return ScreenClientChat
	default:
		return ScreenClientDashboard
	}
}

// ResolveRole はプロフィールのロールを返す。プロフィールがない場合は
// 予約済みIdentity表のメールアドレスに対応するロール、それもなければclientとする。
func ResolveRole(profile *model.Profile, email string, roles RoleSource) model.Role {
	if profile != nil && profile.Role.Valid() {
		return profile.Role
	}
	if roles != nil {
		return roles.RoleFor(email)
	}
	return model.RoleClient
}

// SelectForState は認証状態を考慮して画面を決定する。
// 読み込み中はloading、未認証はlogin、それ以外はSelectの結果を返す。
func SelectForState(state bootstrap.State, section model.Section, roles RoleSource) Screen {
	if state.IsLoading {
		return ScreenLoading
	}
	if state.Identity == nil {
		return ScreenLogin
	}
	return Select(ResolveRole(state.Profile, state.Identity.Email, roles), section)
}

// MenuItem はナビゲーションメニューの1項目。
type MenuItem struct {
	Section model.Section `json:"section"`
	Label   string        `json:"label"`
	Href    string        `json:"href"`
}

var adminMenu = []MenuItem{
	{Section: model.SectionDashboard, Label: "Dashboard"},
	{Section: model.SectionClients, Label: "Clienti"},
	{Section: model.SectionProposals, Label: "Proposte"},
	{Section: model.SectionDocuments, Label: "Documenti"},
	{Section: model.SectionSettings, Label: "Impostazioni"},
}

var clientMenu = []MenuItem{
	{Section: model.SectionDashboard, Label: "Dashboard"},
	{Section: model.SectionPortfolio, Label: "Portafoglio"},
	{Section: model.SectionDocuments, Label: "Documenti"},
	{Section: model.SectionProposals, Label: "Proposte"},
	{Section: model.SectionChat, Label: "Chat"},
}

// Menu はロールごとのメニュー項目を返す。
func Menu(role model.Role) []MenuItem {
	src := clientMenu
	if role == model.RoleAdmin {
		src = adminMenu
	}
	items := make([]MenuItem, len(src))
	for i, item := range src {
		item.Href = "#" + string(item.Section)
		items[i] = item
	}
	return items
}

// DisplayName はヘッダー等に表示するユーザー名を返す。
// プロフィールの氏名、メタデータのfull_name、メールアドレスのローカル部、"Cliente"の順に採用する。
func DisplayName(profile *model.Profile, identity *model.Identity) string {
	if name := strings.TrimSpace(profile.DisplayName()); name != "" {
		return name
	}
	if identity == nil {
		return "Cliente"
	}
	if name := identity.FullName(); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
		return local
	}
	return "Cliente"
}
