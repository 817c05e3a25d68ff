package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"prevdraft-backend/models"
	"prevdraft-backend/provider"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory stores standing in for the pgx repositories.

type memCaseRecordStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.CaseRecord
}

func newMemCaseRecordStore() *memCaseRecordStore {
	return &memCaseRecordStore{records: make(map[uuid.UUID]*models.CaseRecord)}
}

func (s *memCaseRecordStore) Upsert(ctx context.Context, record *models.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.CaseID] = &copied
	return nil
}

func (s *memCaseRecordStore) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[caseID]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	copied := *record
	return &copied, nil
}

type memVersionStore struct {
	mu       sync.Mutex
	versions []*models.DraftVersion
	seq      int
	failNext bool
}

func (s *memVersionStore) Create(ctx context.Context, version *models.DraftVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("injected write failure")
	}
	s.seq++
	version.ID = uuid.New()
	version.GeneratedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
	copied := *version
	s.versions = append(s.versions, &copied)
	return nil
}

func (s *memVersionStore) GetLatest(ctx context.Context, caseID uuid.UUID) (*models.DraftVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.DraftVersion
	for _, v := range s.versions {
		if v.CaseID != caseID {
			continue
		}
		if latest == nil || v.GeneratedAt.After(latest.GeneratedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, errors.New("no rows in result set")
	}
	copied := *latest
	return &copied, nil
}

func (s *memVersionStore) ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]*models.DraftVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.DraftVersion
	for i := len(s.versions) - 1; i >= 0; i-- {
		if s.versions[i].CaseID == caseID {
			copied := *s.versions[i]
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *memVersionStore) count(caseID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.versions {
		if v.CaseID == caseID {
			n++
		}
	}
	return n
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*models.PipelineRun
	seq  int
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[uuid.UUID]*models.PipelineRun)}
}

func copyRun(r *models.PipelineRun) *models.PipelineRun {
	copied := *r
	copied.Stages = append(models.StageStates{}, r.Stages...)
	copied.PendingFindings = append(models.Findings{}, r.PendingFindings...)
	return &copied
}

func (s *memRunStore) Create(ctx context.Context, run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	run.ID = uuid.New()
	run.CreatedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *memRunStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return copyRun(run), nil
}

func (s *memRunStore) GetLatestByCaseID(ctx context.Context, caseID uuid.UUID) (*models.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.PipelineRun
	for _, run := range s.runs {
		if run.CaseID != caseID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, errors.New("no rows in result set")
	}
	return copyRun(latest), nil
}

func (s *memRunStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PipelineRunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
	}
	return nil
}

func (s *memRunStore) UpdateProgress(ctx context.Context, id uuid.UUID, currentStage string, stages models.StageStates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.CurrentStage = &currentStage
		run.Stages = append(models.StageStates{}, stages...)
	}
	return nil
}

func (s *memRunStore) UpdateWorkingState(ctx context.Context, id uuid.UUID, findings models.Findings, riskScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.PendingFindings = append(models.Findings{}, findings...)
		run.RiskScore = riskScore
	}
	return nil
}

func (s *memRunStore) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		now := time.Now()
		run.Status = models.RunCompleted
		run.CompletedAt = &now
	}
	return nil
}

func (s *memRunStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = models.RunFailed
		run.ErrorMessage = &errorMessage
	}
	return nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	entries []*models.CorrectionEntry
}

func (s *memHistoryStore) Create(ctx context.Context, entry *models.CorrectionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	copied.ID = uuid.New()
	s.entries = append(s.entries, &copied)
	return nil
}

func (s *memHistoryStore) ListByCaseID(ctx context.Context, caseID uuid.UUID, limit int) ([]*models.CorrectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.CorrectionEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CaseID == caseID {
			result = append(result, s.entries[i])
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

type memQualityStore struct {
	mu      sync.Mutex
	reports map[string]*models.QualityReport
}

func newMemQualityStore() *memQualityStore {
	return &memQualityStore{reports: make(map[string]*models.QualityReport)}
}

func (s *memQualityStore) Upsert(ctx context.Context, report *models.QualityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *report
	s.reports[report.CaseID.String()+"/"+report.DocumentType] = &copied
	return nil
}

func (s *memQualityStore) Get(ctx context.Context, caseID uuid.UUID, documentType string) (*models.QualityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[caseID.String()+"/"+documentType]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	copied := *report
	return &copied, nil
}

// mockAIBackend fakes the generative provider with injectable failures and
// call recording.
type mockAIBackend struct {
	mu           sync.Mutex
	calls        []string
	applied      [][]models.Finding
	generateErr  error
	critiqueErr  error
	applyErr     error
	critique     *provider.CritiqueResult
	generateGate chan struct{}
	started      chan struct{}
	startOnce    sync.Once
}

func newMockAIBackend() *mockAIBackend {
	return &mockAIBackend{
		critique: &provider.CritiqueResult{Findings: models.Findings{}, RiskScore: 0},
	}
}

func (m *mockAIBackend) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockAIBackend) callNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockAIBackend) callCount(name string) int {
	n := 0
	for _, c := range m.callNames() {
		if c == name {
			n++
		}
	}
	return n
}

func (m *mockAIBackend) Generate(ctx context.Context, record *models.CaseRecord) (string, error) {
	m.record("Generate")
	if m.started != nil {
		m.startOnce.Do(func() { close(m.started) })
	}
	if m.generateGate != nil {
		<-m.generateGate
	}
	if m.generateErr != nil {
		return "", m.generateErr
	}
	return "EXMO. JUIZ - petição inicial de " + record.AuthorName, nil
}

func (m *mockAIBackend) Critique(ctx context.Context, draft string, record *models.CaseRecord) (*provider.CritiqueResult, error) {
	m.record("Critique")
	if m.critiqueErr != nil {
		return nil, m.critiqueErr
	}
	return m.critique, nil
}

func (m *mockAIBackend) ApplyCorrections(ctx context.Context, draft string, findings []models.Finding) (string, error) {
	m.record("ApplyCorrections")
	m.mu.Lock()
	m.applied = append(m.applied, append([]models.Finding{}, findings...))
	m.mu.Unlock()
	if m.applyErr != nil {
		return "", m.applyErr
	}
	return draft + fmt.Sprintf(" [corrigido %d]", len(findings)), nil
}

func (m *mockAIBackend) AdaptRegional(ctx context.Context, draft string, jurisdiction string) (*provider.AdaptationResult, error) {
	m.record("AdaptRegional")
	return &provider.AdaptationResult{
		AdaptedDraft: draft + " [adaptado " + jurisdiction + "]",
		Suggestions:  []string{"formato de endereçamento local"},
	}, nil
}

func (m *mockAIBackend) AdaptAppellate(ctx context.Context, draft string, record *models.CaseRecord) (*provider.AdaptationResult, error) {
	m.record("AdaptAppellate")
	return &provider.AdaptationResult{
		AdaptedDraft:       draft + " [reforço recursal]",
		Suggestions:        []string{"súmula 149 STJ enfrentada"},
		AppealRiskEstimate: 20,
	}, nil
}

type pipelineFixture struct {
	service  *PipelineService
	records  *memCaseRecordStore
	versions *memVersionStore
	runs     *memRunStore
	history  *memHistoryStore
	quality  *memQualityStore
	backend  *mockAIBackend
}

func completeRecord(caseID uuid.UUID) *models.CaseRecord {
	return &models.CaseRecord{
		CaseID:       caseID,
		AuthorName:   "Maria Silva",
		CPF:          "12345678900",
		BirthDate:    "1960-03-15",
		RequestDate:  "2024-01-10",
		BenefitType:  "aposentadoria por idade rural",
		City:         "Sobral",
		State:        "CE",
		Jurisdiction: "Comarca de Sobral",
		ValueOfClaim: "R$ 52.800,00",
		RuralPeriods: models.RuralPeriods{
			{StartDate: "1990-01-01", EndDate: "2010-12-31", Regime: "economia familiar"},
		},
		ConsolidatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newPipelineFixture(t *testing.T, record *models.CaseRecord) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		records:  newMemCaseRecordStore(),
		versions: &memVersionStore{},
		runs:     newMemRunStore(),
		history:  &memHistoryStore{},
		quality:  newMemQualityStore(),
		backend:  newMockAIBackend(),
	}
	if record != nil {
		require.NoError(t, f.records.Upsert(context.Background(), record))
	}

	f.service = NewPipelineService(
		PipelineWithCaseRecordStore(f.records),
		PipelineWithDraftVersionStore(f.versions),
		PipelineWithRunStore(f.runs),
		PipelineWithHistoryStore(f.history),
		PipelineWithQualityStore(f.quality),
		PipelineWithProvider(f.backend),
	)
	return f
}

// runToCompletion starts a run and drains the update stream until the
// background execution terminates.
func (f *pipelineFixture) runToCompletion(t *testing.T, caseID uuid.UUID) *models.PipelineRun {
	t.Helper()

	handle, err := f.service.StartRun(context.Background(), caseID)
	require.NoError(t, err)
	for range handle.Updates {
	}

	run, err := f.runs.GetByID(context.Background(), handle.Run.ID)
	require.NoError(t, err)
	return run
}

func TestPipelineRunHappyPath(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))
	f.backend.critique = &provider.CritiqueResult{
		Findings: models.Findings{
			{ID: uuid.New(), Type: "missing_element", Description: "falta pedido de justiça gratuita", Severity: models.SeverityHigh},
			{ID: uuid.New(), Type: "weak_argument", Description: "prova material pouco explorada", Severity: models.SeverityLow},
		},
		RiskScore: 20,
	}

	run := f.runToCompletion(t, caseID)

	assert.Equal(t, models.RunCompleted, run.Status)
	for _, stage := range run.Stages {
		assert.Equal(t, models.StageCompleted, stage.Status, "stage %s", stage.Name)
	}

	assert.Equal(t, []string{"Generate", "Critique", "ApplyCorrections", "AdaptRegional", "AdaptAppellate"}, f.backend.callNames())

	// Generated, corrected, regional, appellate, final.
	assert.Equal(t, 5, f.versions.count(caseID))

	latest, err := f.versions.GetLatest(context.Background(), caseID)
	require.NoError(t, err)
	assert.True(t, latest.Flags.RegionalAdaptationsApplied)
	assert.True(t, latest.Flags.AppellateAdaptationsApplied)
	assert.True(t, latest.Flags.FinalVersion)
	assert.False(t, latest.Flags.CorrectedByJudge)
	assert.NotEmpty(t, latest.ContentHash)

	assert.Equal(t, 0, run.RiskScore, "applying all findings drives risk to exactly zero")
	assert.Empty(t, run.PendingFindings)

	entries, err := f.history.ListByCaseID(context.Background(), caseID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestPipelineCorrectionsBatchedInPairs(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))
	f.backend.critique = &provider.CritiqueResult{
		Findings: models.Findings{
			{ID: uuid.New(), Description: "a", Severity: models.SeverityLow},
			{ID: uuid.New(), Description: "b", Severity: models.SeverityLow},
			{ID: uuid.New(), Description: "c", Severity: models.SeverityLow},
		},
		RiskScore: 15,
	}

	run := f.runToCompletion(t, caseID)
	require.Equal(t, models.RunCompleted, run.Status)

	require.Len(t, f.backend.applied, 2, "three findings split into batches of two")
	assert.Len(t, f.backend.applied[0], 2)
	assert.Len(t, f.backend.applied[1], 1)
	assert.Equal(t, "a", f.backend.applied[0][0].Description, "batch order follows findings order")
	assert.Equal(t, "c", f.backend.applied[1][0].Description)
}

func TestPipelineValidationStopsBeforeDrafting(t *testing.T) {
	caseID := uuid.New()
	record := completeRecord(caseID)
	record.CPF = ""
	record.BirthDate = ""
	f := newPipelineFixture(t, record)

	run := f.runToCompletion(t, caseID)

	assert.Equal(t, models.RunFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "required fields missing")
	assert.Contains(t, *run.ErrorMessage, "cpf")

	assert.Equal(t, models.StageFailed, run.StageState(models.StageAutoFix).Status)
	assert.Equal(t, models.StagePending, run.StageState(models.StageDraftGeneration).Status)
	assert.Equal(t, 0, f.versions.count(caseID), "no draft generated for incomplete data")
	assert.Zero(t, f.backend.callCount("Generate"))
}

func TestPipelineRateLimitFailurePreservesDraft(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))
	f.backend.critiqueErr = fmt.Errorf("%w: try again later", provider.ErrRateLimited)

	run := f.runToCompletion(t, caseID)

	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, models.StageFailed, run.StageState(models.StageCriticAnalysis).Status)
	assert.Equal(t, models.StageCompleted, run.StageState(models.StageDraftGeneration).Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "CriticAnalysis")

	// The generated draft survives the downstream failure untouched.
	assert.Equal(t, 1, f.versions.count(caseID))
	latest, err := f.versions.GetLatest(context.Background(), caseID)
	require.NoError(t, err)
	assert.Contains(t, latest.Content, "Maria Silva")
}

func TestPipelineReentrySkipsValidDraftGeneration(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))
	f.backend.critiqueErr = fmt.Errorf("%w: try again later", provider.ErrRateLimited)

	first := f.runToCompletion(t, caseID)
	require.Equal(t, models.RunFailed, first.Status)
	require.Equal(t, 1, f.backend.callCount("Generate"))

	// The provider recovers; re-running must not regenerate the still-valid
	// draft.
	f.backend.critiqueErr = nil
	second := f.runToCompletion(t, caseID)

	assert.Equal(t, models.RunCompleted, second.Status)
	assert.Equal(t, 1, f.backend.callCount("Generate"), "draft generation bypassed on re-entry")
	assert.Equal(t, models.StageCompleted, second.StageState(models.StageDraftGeneration).Status)
	assert.Contains(t, second.StageState(models.StageDraftGeneration).Message, "not re-executed")
}

func TestPipelineRunCaseBusy(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))
	f.backend.generateGate = make(chan struct{})
	f.backend.started = make(chan struct{})

	handle, err := f.service.StartRun(context.Background(), caseID)
	require.NoError(t, err)
	<-f.backend.started

	_, err = f.service.StartRun(context.Background(), caseID)
	assert.ErrorIs(t, err, ErrCaseBusy)

	close(f.backend.generateGate)
	for range handle.Updates {
	}

	// Lease released after the run terminates.
	handle2, err := f.service.StartRun(context.Background(), caseID)
	require.NoError(t, err)
	for range handle2.Updates {
	}
}

func TestApplyFindingReducesRiskByItsDelta(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	mediumFinding := models.Finding{ID: uuid.New(), Description: "fundamentação fraca", Severity: models.SeverityMedium}
	highFinding := models.Finding{ID: uuid.New(), Description: "DER divergente", Severity: models.SeverityHigh}

	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição inicial v1",
	}))
	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunCompleted,
		Stages:          newStageStates(),
		PendingFindings: models.Findings{mediumFinding, highFinding},
		RiskScore:       60,
	}))

	result, err := f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: mediumFinding.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, 50, result.RiskScore, "medium finding removes exactly 10 points")
	require.Len(t, result.RemainingFindings, 1)
	assert.Equal(t, highFinding.ID, result.RemainingFindings[0].ID)
	assert.True(t, result.Draft.Flags.CorrectedByJudge)
	assert.Contains(t, result.Draft.Content, "[corrigido 1]")
}

func TestApplyAllFindingsDrivesRiskToZero(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	findings := models.Findings{
		{ID: uuid.New(), Description: "a", Severity: models.SeverityHigh},
		{ID: uuid.New(), Description: "b", Severity: models.SeverityLow},
	}

	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição inicial v1",
	}))
	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunCompleted,
		Stages:          newStageStates(),
		PendingFindings: findings,
		RiskScore:       60,
	}))

	result, err := f.service.ApplyFindingsBatch(context.Background(), ApplyFindingsBatchRequest{
		CaseID:     caseID,
		FindingIDs: []uuid.UUID{findings[0].ID, findings[1].ID},
	})
	require.NoError(t, err)

	// 60 - 15 - 5 would leave 40, but an empty pending set means the risk
	// score reads exactly zero.
	assert.Equal(t, 0, result.RiskScore)
	assert.Empty(t, result.RemainingFindings)
}

func TestApplyFindingSingleDeltaFloorsAtZero(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	findings := models.Findings{
		{ID: uuid.New(), Description: "a", Severity: models.SeverityHigh},
		{ID: uuid.New(), Description: "b", Severity: models.SeverityHigh},
	}

	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição inicial v1",
	}))
	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunCompleted,
		Stages:          newStageStates(),
		PendingFindings: findings,
		RiskScore:       10,
	}))

	result, err := f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: findings[0].ID,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.RiskScore, "risk never goes negative")
	assert.Len(t, result.RemainingFindings, 1)
}

func TestApplyFindingErrors(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	_, err := f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: uuid.New(),
	})
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunCompleted,
		Stages:          newStageStates(),
		PendingFindings: models.Findings{},
	}))
	_, err = f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: uuid.New(),
	})
	assert.ErrorIs(t, err, ErrNoPendingFindings)
}

func TestApplyFindingUnknownID(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID: caseID,
		Status: models.RunCompleted,
		Stages: newStageStates(),
		PendingFindings: models.Findings{
			{ID: uuid.New(), Description: "a", Severity: models.SeverityLow},
		},
		RiskScore: 5,
	}))

	_, err := f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: uuid.New(),
	})
	assert.ErrorIs(t, err, ErrFindingNotFound)
}

func TestApplyFindingPersistenceFailureSurfaces(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	finding := models.Finding{ID: uuid.New(), Description: "a", Severity: models.SeverityLow}
	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição inicial v1",
	}))
	require.NoError(t, f.runs.Create(context.Background(), &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunCompleted,
		Stages:          newStageStates(),
		PendingFindings: models.Findings{finding},
		RiskScore:       5,
	}))

	f.versions.failNext = true
	_, err := f.service.ApplyFinding(context.Background(), ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: finding.ID,
	})
	assert.ErrorIs(t, err, ErrPersistence)

	// Nothing was consumed: the finding is still pending for a retry.
	run, getErr := f.runs.GetLatestByCaseID(context.Background(), caseID)
	require.NoError(t, getErr)
	assert.Len(t, run.PendingFindings, 1)
	assert.Equal(t, 5, run.RiskScore)
}

func TestGetLatestDraftStaleness(t *testing.T) {
	caseID := uuid.New()
	record := completeRecord(caseID)
	f := newPipelineFixture(t, record)

	_, err := f.service.GetLatestDraft(context.Background(), LatestDraftRequest{CaseID: caseID})
	assert.ErrorIs(t, err, ErrDraftNotFound)

	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição inicial íntegra",
	}))

	result, err := f.service.GetLatestDraft(context.Background(), LatestDraftRequest{CaseID: caseID})
	require.NoError(t, err)
	assert.False(t, result.IsStale)

	// The record changes after generation: the draft no longer reflects it.
	record.UpdatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.records.Upsert(context.Background(), record))

	result, err = f.service.GetLatestDraft(context.Background(), LatestDraftRequest{CaseID: caseID})
	require.NoError(t, err)
	assert.True(t, result.IsStale)
}

func TestGetLatestDraftContentInvalidIsStale(t *testing.T) {
	caseID := uuid.New()
	f := newPipelineFixture(t, completeRecord(caseID))

	require.NoError(t, f.versions.Create(context.Background(), &models.DraftVersion{
		CaseID:  caseID,
		Content: "petição com campo [PREENCHER] esquecido",
	}))

	result, err := f.service.GetLatestDraft(context.Background(), LatestDraftRequest{CaseID: caseID})
	require.NoError(t, err)
	assert.True(t, result.IsStale, "unresolved placeholder marks the draft stale regardless of timestamps")
}
