package navigation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ebridge/internal/model"
)

func TestState_DefaultsToDashboard(t *testing.T) {
	s := New()
	assert.Equal(t, model.SectionDashboard, s.Active())
}

func TestState_NavigateTo(t *testing.T) {
	s := New()

	for _, section := range model.Sections() {
		got, err := s.NavigateTo(string(section))
		require.NoError(t, err)
		assert.Equal(t, section, got)
		assert.Equal(t, section, s.Active())
	}
}

func TestState_NavigateTo_IsIdempotent(t *testing.T) {
	s := New()
	_, err := s.NavigateTo("documents")
	require.NoError(t, err)
	_, err = s.NavigateTo("documents")
	require.NoError(t, err)
	assert.Equal(t, model.SectionDocuments, s.Active())
}

func TestState_NavigateTo_UnknownSectionKeepsState(t *testing.T) {
	s := New()
	_, err := s.NavigateTo("portfolio")
	require.NoError(t, err)

	_, err = s.NavigateTo("reports")
	require.ErrorIs(t, err, model.ErrUnknownSection)
	assert.Equal(t, model.SectionPortfolio, s.Active())

	_, err = s.NavigateTo("")
	require.ErrorIs(t, err, model.ErrUnknownSection)
}

func TestState_NavigateTo_DoesNotCheckRole(t *testing.T) {
	// clientsは管理者用のセクションだが、選択自体は常に受け付ける
	s := New()
	_, err := s.NavigateTo("clients")
	require.NoError(t, err)
	assert.Equal(t, model.SectionClients, s.Active())
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for _, section := range model.Sections() {
		wg.Add(2)
		go func(name string) {
			defer wg.Done()
			s.NavigateTo(name)
		}(string(section))
		go func() {
			defer wg.Done()
			assert.True(t, s.Active().Valid())
		}()
	}
	wg.Wait()
	assert.True(t, s.Active().Valid())
}
