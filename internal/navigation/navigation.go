// Package navigation はWebセッションごとのアクティブな画面セクションを保持する。
package navigation

import (
	"sync"

	"github.com/hitoshi/ebridge/internal/model"
)

// DefaultSection は初期状態のセクション。
const DefaultSection = model.SectionDashboard

// State はアクティブなセクションを保持する。履歴は持たない。
type State struct {
	mu     sync.RWMutex
	active model.Section
}

// New はセクションがdashboardのStateを生成する。
func New() *State {
	return &State{active: DefaultSection}
}

// Active は現在のセクションを返す。
func (s *State) Active() model.Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// NavigateTo はアクティブなセクションを無条件に置き換える。
// 列挙値に含まれないセクション名はmodel.ErrUnknownSectionを返し、状態を変更しない。
// ロールによる到達可否の判定は行わない。
func (s *State) NavigateTo(name string) (model.Section, error) {
	section, err := model.ParseSection(name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.active = section
	s.mu.Unlock()
	return section, nil
}
