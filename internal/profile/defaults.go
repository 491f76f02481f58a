// Package profile はプロフィールの解決（取得、または予約済みIdentity表に基づく既定値での作成）を提供する。
package profile

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hitoshi/ebridge/internal/model"
)

// Reserved は予約済みIdentity表の1エントリ。
// 該当メールアドレスのプロフィールを作成する際の既定値を定める。
type Reserved struct {
	Email     string          `toml:"email"`
	Role      model.Role      `toml:"role"`
	FullName  string          `toml:"full_name"`
	KYCStatus model.KYCStatus `toml:"kyc_status"`
}

// defaultsFile は予約済みIdentity表のTOMLファイル形式。
type defaultsFile struct {
	Identities []Reserved `toml:"identity"`
}

// builtinReserved は組み込みの予約済みIdentity表。
var builtinReserved = []Reserved{
	{
		Email:     "admin@ebridge.ee",
		Role:      model.RoleAdmin,
		FullName:  "Amministratore E-Bridge",
		KYCStatus: model.KYCApproved,
	},
	{
		Email:     "cliente@ebridge.ee",
		Role:      model.RoleClient,
		FullName:  "Cliente Demo",
		KYCStatus: model.KYCApproved,
	},
}

// Defaults は予約済みIdentity表。メールアドレスから既定のロール・氏名・KYC状態を引く。
// 生成後は読み取り専用で、複数ゴルーチンから安全に参照できる。
type Defaults struct {
	entries map[string]Reserved
}

// BuiltinDefaults は組み込みの予約済みIdentity表を返す。
func BuiltinDefaults() *Defaults {
	d, err := NewDefaults(builtinReserved)
	if err != nil {
		panic(err)
	}
	return d
}

// NewDefaults はエントリ一覧からDefaultsを生成する。
// メールアドレスの重複、不正なロールやKYC状態はエラーとする。
func NewDefaults(entries []Reserved) (*Defaults, error) {
	d := &Defaults{entries: make(map[string]Reserved, len(entries))}
	for i, e := range entries {
		key := normalizeEmail(e.Email)
		if key == "" {
			return nil, fmt.Errorf("reserved identity #%d: email is required", i+1)
		}
		if e.Role == "" {
			e.Role = model.RoleClient
		}
		if !e.Role.Valid() {
			return nil, fmt.Errorf("reserved identity %s: invalid role %q", e.Email, e.Role)
		}
		if e.KYCStatus == "" {
			e.KYCStatus = model.KYCPending
		}
		if !e.KYCStatus.Valid() {
			return nil, fmt.Errorf("reserved identity %s: invalid kyc_status %q", e.Email, e.KYCStatus)
		}
		if _, dup := d.entries[key]; dup {
			return nil, fmt.Errorf("reserved identity %s: duplicated email", e.Email)
		}
		e.Email = key
		d.entries[key] = e
	}
	return d, nil
}

// ParseDefaults はTOML形式の予約済みIdentity表を解析する。
func ParseDefaults(data []byte) (*Defaults, error) {
	var f defaultsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse reserved identities: %w", err)
	}
	return NewDefaults(f.Identities)
}

// LoadDefaults はファイルから予約済みIdentity表を読み込む。
// pathが空の場合は組み込みの表を返す。
func LoadDefaults(path string) (*Defaults, error) {
	if path == "" {
		return BuiltinDefaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reserved identities file: %w", err)
	}
	return ParseDefaults(data)
}

// Lookup はメールアドレスに対応する予約エントリを返す。
func (d *Defaults) Lookup(email string) (Reserved, bool) {
	if d == nil {
		return Reserved{}, false
	}
	e, ok := d.entries[normalizeEmail(email)]
	return e, ok
}

// RoleFor はメールアドレスに対応する既定ロールを返す。予約されていない場合はclient。
func (d *Defaults) RoleFor(email string) model.Role {
	if e, ok := d.Lookup(email); ok {
		return e.Role
	}
	return model.RoleClient
}

// Len は登録エントリ数を返す。
func (d *Defaults) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Synthesize はIdentityに対する既定プロフィールを生成する。
// 予約済みメールアドレスは表の値を、それ以外はrole=client、kyc_status=pending、
// 氏名はユーザーメタデータのfull_name（なければ未設定）とする。
func (d *Defaults) Synthesize(identity *model.Identity) *model.Profile {
	p := &model.Profile{
		ID:        identity.ID,
		Role:      model.RoleClient,
		KYCStatus: model.KYCPending,
	}

	if e, ok := d.Lookup(identity.Email); ok {
		p.Role = e.Role
		p.KYCStatus = e.KYCStatus
		if e.FullName != "" {
			p.FullName = model.StringPtr(e.FullName)
		}
		return p
	}

	if name := identity.FullName(); name != "" {
		p.FullName = model.StringPtr(name)
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
