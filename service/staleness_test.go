package service

import (
	"testing"
	"time"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsStale(t *testing.T) {
	detector := NewStalenessDetector()
	versionID := uuid.New()
	analyzedAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	latest := &models.DraftVersion{ID: versionID}

	freshStage := func() *models.StageState {
		id := versionID
		at := analyzedAt
		return &models.StageState{
			Name:              models.StageCriticAnalysis,
			Status:            models.StageCompleted,
			AnalyzedVersionID: &id,
			AnalyzedAt:        &at,
		}
	}

	tests := []struct {
		name          string
		mutate        func(*models.StageState) *models.StageState
		latest        *models.DraftVersion
		caseUpdatedAt time.Time
		want          bool
	}{
		{
			name:   "completed stage matching latest version is fresh",
			mutate: func(s *models.StageState) *models.StageState { return s },
			latest: latest,
			want:   false,
		},
		{
			name:   "nil stage is stale",
			mutate: func(s *models.StageState) *models.StageState { return nil },
			latest: latest,
			want:   true,
		},
		{
			name: "non-completed stage is stale",
			mutate: func(s *models.StageState) *models.StageState {
				s.Status = models.StageFailed
				return s
			},
			latest: latest,
			want:   true,
		},
		{
			name: "newer draft version invalidates the result",
			mutate: func(s *models.StageState) *models.StageState {
				other := uuid.New()
				s.AnalyzedVersionID = &other
				return s
			},
			latest: latest,
			want:   true,
		},
		{
			name: "missing analyzed version against existing draft is stale",
			mutate: func(s *models.StageState) *models.StageState {
				s.AnalyzedVersionID = nil
				return s
			},
			latest: latest,
			want:   true,
		},
		{
			name:          "case record updated after analysis is stale",
			mutate:        func(s *models.StageState) *models.StageState { return s },
			latest:        latest,
			caseUpdatedAt: analyzedAt.Add(time.Hour),
			want:          true,
		},
		{
			name:          "case record updated before analysis stays fresh",
			mutate:        func(s *models.StageState) *models.StageState { return s },
			latest:        latest,
			caseUpdatedAt: analyzedAt.Add(-time.Hour),
			want:          false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stage := tc.mutate(freshStage())
			assert.Equal(t, tc.want, detector.IsStale(stage, tc.latest, tc.caseUpdatedAt))
		})
	}
}

func TestContentInvalid(t *testing.T) {
	detector := NewStalenessDetector()

	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"clean draft", "EXMO. SR. DR. JUIZ DE DIREITO DA COMARCA DE SOBRAL", false},
		{"unexpanded template variable", "requerente {{nome_autor}}, brasileira", true},
		{"placeholder marker", "valor da causa: [PREENCHER]", true},
		{"completion marker", "endereço: [COMPLETAR]", true},
		{"blank underline run", "CPF: ______", true},
		{"sample author literal", "João da Silva Sobrinho, lavrador", true},
		{"sample jurisdiction literal", "dirigida à Comarca de Exemplo", true},
		{"zero claim value literal", "dá-se à causa o valor de R$ 0,00", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			invalid, reason := detector.ContentInvalid(tc.content)
			assert.Equal(t, tc.invalid, invalid)
			if tc.invalid {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash("petição inicial")
	b := ContentHash("petição inicial")
	c := ContentHash("petição inicial ")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
