package session

import (
	"context"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/repository"
)

// RepoStorage はauth_sessionsテーブルをバックエンドクライアントのセッションストレージとして使う。
// 保存のたびに有効期限をttl先へ延長する。
type RepoStorage struct {
	repo repository.AuthSessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewRepoStorage はRepoStorageを生成する。
func NewRepoStorage(repo repository.AuthSessionRepository, ttl time.Duration) *RepoStorage {
	return &RepoStorage{repo: repo, ttl: ttl, now: time.Now}
}

// GetItem は保存済みの値を返す。存在しないか期限切れの場合はnilを返す。
func (s *RepoStorage) GetItem(ctx context.Context, key string) ([]byte, error) {
	ws, err := s.repo.FindByID(ctx, key)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, nil
	}
	return ws.Data, nil
}

// SetItem は値を保存する。
func (s *RepoStorage) SetItem(ctx context.Context, key string, value []byte) error {
	return s.repo.Save(ctx, &model.WebSession{
		ID:        key,
		Data:      value,
		ExpiresAt: s.now().Add(s.ttl),
	})
}

// RemoveItem は値を削除する。
func (s *RepoStorage) RemoveItem(ctx context.Context, key string) error {
	return s.repo.DeleteByID(ctx, key)
}

var _ backend.SessionStorage = (*RepoStorage)(nil)
