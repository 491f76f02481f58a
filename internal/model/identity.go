// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Identity はバックエンドの認証基盤が発行した認証済みプリンシパルを表す。
// セッションが有効な間、Sessionと1対1で対応する。
type Identity struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Provider     string         `json:"provider,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FullName はユーザーメタデータに登録された表示名を返す。
// 登録時に渡されたfull_nameが存在しない場合は空文字列を返す。
func (i *Identity) FullName() string {
	if i == nil || i.UserMetadata == nil {
		return ""
	}
	name, _ := i.UserMetadata["full_name"].(string)
	return strings.TrimSpace(name)
}

// Clone はIdentityのディープコピーを返す。
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.UserMetadata != nil {
		c.UserMetadata = make(map[string]any, len(i.UserMetadata))
		for k, v := range i.UserMetadata {
			c.UserMetadata[k] = v
		}
	}
	return &c
}

// AuthSession はバックエンドが発行したログインセッションを表す。
// バックエンドクライアントが所有・永続化し、アプリケーション状態には読み取り専用で反映される。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired はアクセストークンが期限切れ（またはleeway以内に期限切れ）かを判定する。
// ExpiresAtがゼロ値の場合は期限なしとして扱う。
func (s *AuthSession) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// Clone はAuthSessionのディープコピーを返す。
func (s *AuthSession) Clone() *AuthSession {
	if s == nil {
		return nil
	}
	c := *s
	c.User = *s.User.Clone()
	return &c
}

// AuthEventType は認証状態変化イベントの種別。
type AuthEventType string

const (
	AuthEventSignedIn       AuthEventType = "SIGNED_IN"
	AuthEventSignedOut      AuthEventType = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent はバックエンドクライアントが通知する認証状態の変化。
// サインアウト時のSessionはnil。
type AuthEvent struct {
	Type    AuthEventType
	Session *AuthSession
}

// WebSession はブラウザコンテキストごとのWebセッションを表す。
// Dataにはバックエンドセッションのシリアライズ結果を保持する。
type WebSession struct {
	ID        string
	Data      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
