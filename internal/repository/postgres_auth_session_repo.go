package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/ebridge/internal/model"
)

// PostgresAuthSessionRepo はPostgreSQLを使用したWebセッションリポジトリ。
// バックエンドセッションとPKCEのcode_verifierをキー単位で保存する。
type PostgresAuthSessionRepo struct {
	db *sql.DB
}

// NewPostgresAuthSessionRepo はPostgresAuthSessionRepoを生成する。
func NewPostgresAuthSessionRepo(db *sql.DB) *PostgresAuthSessionRepo {
	return &PostgresAuthSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *PostgresAuthSessionRepo) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	s := &model.WebSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, data, expires_at, created_at, updated_at
		 FROM auth_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&s.ID, &s.Data, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find auth session: %w", err)
	}

	return s, nil
}

// Save はセッションを作成または上書きする。created_atは初回作成時の値を維持する。
func (r *PostgresAuthSessionRepo) Save(ctx context.Context, session *model.WebSession) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO auth_sessions (id, data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()
		 RETURNING created_at, updated_at`,
		session.ID, session.Data, session.ExpiresAt,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
func (r *PostgresAuthSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresAuthSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired auth sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted auth sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuthSessionRepository = (*PostgresAuthSessionRepo)(nil)
