package model

import "time"

// Role はユーザーの役割。到達可能な画面セットを決定する。
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Valid はRoleが定義済みの値かを判定する。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// Label はUI表示用のラベルを返す。
func (r Role) Label() string {
	if r == RoleAdmin {
		return "Amministratore"
	}
	return "Cliente"
}

// KYCStatus はKYC（本人確認）の審査状態。検証ロジックは持たない列挙値。
type KYCStatus string

const (
	KYCApproved KYCStatus = "approved"
	KYCPending  KYCStatus = "pending"
	KYCRejected KYCStatus = "rejected"
)

// Valid はKYCStatusが定義済みの値かを判定する。
func (s KYCStatus) Valid() bool {
	switch s {
	case KYCApproved, KYCPending, KYCRejected:
		return true
	default:
		return false
	}
}

// Label はUI表示用のラベルを返す。未知の値は「Sconosciuto」。
func (s KYCStatus) Label() string {
	switch s {
	case KYCApproved:
		return "Approvato"
	case KYCPending:
		return "In attesa"
	case KYCRejected:
		return "Rifiutato"
	default:
		return "Sconosciuto"
	}
}

// Tone はUIバッジの配色キーを返す。
func (s KYCStatus) Tone() string {
	switch s {
	case KYCApproved:
		return "success"
	case KYCPending:
		return "warning"
	case KYCRejected:
		return "danger"
	default:
		return "neutral"
	}
}

// Profile はprofilesテーブルの1行を表す。Identity.IDをキーとし、Identityごとに最大1件。
// 省略可能な列はnullを区別するためポインタで保持する。
type Profile struct {
	ID        string    `json:"id"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Phone     *string   `json:"phone"`
	KYCStatus KYCStatus `json:"kyc_status"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName はプロフィールの表示名を返す。未設定の場合は空文字列。
func (p *Profile) DisplayName() string {
	if p == nil || p.FullName == nil {
		return ""
	}
	return *p.FullName
}

// Clone はProfileのディープコピーを返す。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.FullName = cloneString(p.FullName)
	c.AvatarURL = cloneString(p.AvatarURL)
	c.Phone = cloneString(p.Phone)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr は文字列リテラルからポインタを生成するヘルパー。
func StringPtr(s string) *string {
	return &s
}
