// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/ebridge/internal/model"
)

// AuthSessionRepository はWebセッションに紐づくバックエンドセッションの永続化インターフェース。
type AuthSessionRepository interface {
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
	// Save はセッションを作成または上書きする。
	Save(ctx context.Context, session *model.WebSession) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
