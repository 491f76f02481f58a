package profile

import (
	"context"
	"sync"

	"github.com/hitoshi/ebridge/internal/model"
)

// MemoryStore はプロセス内メモリにプロフィールを保持するStore。
// Upsertは同一IDの既存行を上書きしない。
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*model.Profile
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(profiles ...*model.Profile) *MemoryStore {
	s := &MemoryStore{rows: make(map[string]*model.Profile)}
	for _, p := range profiles {
		s.rows[p.ID] = p.Clone()
	}
	return s
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Clone(), nil
}

// Upsert はプロフィールを冪等に作成する。既存行がある場合はそれを返す。
func (s *MemoryStore) Upsert(_ context.Context, profile *model.Profile) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rows[profile.ID]; ok {
		return existing.Clone(), nil
	}
	s.rows[profile.ID] = profile.Clone()
	return profile.Clone(), nil
}

// Len は保持している行数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var _ Store = (*MemoryStore)(nil)
