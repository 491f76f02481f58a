package backend

import (
	"context"
	"sync"
)

// SessionStorage はバックエンドセッションとPKCEのcode_verifierを永続化するストレージ。
type SessionStorage interface {
	// GetItem は指定キーの値を取得する。存在しない場合はnilを返す。
	GetItem(ctx context.Context, key string) ([]byte, error)
	// SetItem は指定キーに値を保存する。
	SetItem(ctx context.Context, key string, value []byte) error
	// RemoveItem は指定キーの値を削除する。存在しない場合も成功とする。
	RemoveItem(ctx context.Context, key string) error
}

// MemoryStorage はプロセス内メモリに値を保持するSessionStorage。
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

// GetItem は指定キーの値を取得する。存在しない場合はnilを返す。
func (m *MemoryStorage) GetItem(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// SetItem は指定キーに値を保存する。
func (m *MemoryStorage) SetItem(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

// RemoveItem は指定キーの値を削除する。
func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

var _ SessionStorage = (*MemoryStorage)(nil)
