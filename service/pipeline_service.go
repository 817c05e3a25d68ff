package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"prevdraft-backend/models"
	"prevdraft-backend/provider"

	"github.com/google/uuid"
)

const (
	defaultBatchSize     = 2
	defaultMaxConcurrent = 5
	historySnippetLen    = 400
)

// DraftVersionStore is the append-only draft version log
type DraftVersionStore interface {
	Create(ctx context.Context, version *models.DraftVersion) error
	GetLatest(ctx context.Context, caseID uuid.UUID) (*models.DraftVersion, error)
	ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]*models.DraftVersion, error)
}

// PipelineRunStore persists pipeline runs and their working state
type PipelineRunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetLatestByCaseID(ctx context.Context, caseID uuid.UUID) (*models.PipelineRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.PipelineRunStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, currentStage string, stages models.StageStates) error
	UpdateWorkingState(ctx context.Context, id uuid.UUID, findings models.Findings, riskScore int) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// CorrectionHistoryStore appends and reads audit entries
type CorrectionHistoryStore interface {
	Create(ctx context.Context, entry *models.CorrectionEntry) error
	ListByCaseID(ctx context.Context, caseID uuid.UUID, limit int) ([]*models.CorrectionEntry, error)
}

// QualityReportStore persists quality reports
type QualityReportStore interface {
	Upsert(ctx context.Context, report *models.QualityReport) error
	Get(ctx context.Context, caseID uuid.UUID, documentType string) (*models.QualityReport, error)
}

// DraftArchiver stores finalized petition text outside the database
type DraftArchiver interface {
	Archive(ctx context.Context, caseID, versionID uuid.UUID, content string) (string, error)
}

var (
	ErrDraftNotFound     = errors.New("no draft version exists for case")
	ErrRunNotFound       = errors.New("pipeline run not found")
	ErrNoPendingFindings = errors.New("no pending findings for case")
	ErrFindingNotFound   = errors.New("finding not found in pending set")

	// ErrPersistence marks a write failure after a successful provider
	// call. The operation must be retried explicitly by the caller; a
	// successful correction is never silently dropped.
	ErrPersistence = errors.New("persistence failed after successful provider call")
)

// ValidationError carries the structured list of missing required fields.
// The pipeline does not proceed past the stage that requires them.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "required fields missing: " + strings.Join(e.MissingFields, ", ")
}

// PipelineService drives the correction pipeline: a strict stage sequence
// from quality analysis through finalization, serialized per case, with
// staleness-gated re-entry after partial failure.
type PipelineService struct {
	caseRecordStore    CaseRecordStore
	versions           DraftVersionStore
	runs               PipelineRunStore
	history            CorrectionHistoryStore
	quality            QualityReportStore
	correctionProvider provider.CorrectionProvider
	archiver           DraftArchiver
	staleness          *StalenessDetector
	lease              *CaseLease
	batchSize          int
	slots              chan struct{}
}

// PipelineServiceOption is a functional option for PipelineService
type PipelineServiceOption func(*PipelineService)

// PipelineWithCaseRecordStore sets the case record store
func PipelineWithCaseRecordStore(store CaseRecordStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.caseRecordStore = store
	}
}

// PipelineWithDraftVersionStore sets the draft version store
func PipelineWithDraftVersionStore(store DraftVersionStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.versions = store
	}
}

// PipelineWithRunStore sets the pipeline run store
func PipelineWithRunStore(store PipelineRunStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.runs = store
	}
}

// PipelineWithHistoryStore sets the correction history store
func PipelineWithHistoryStore(store CorrectionHistoryStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.history = store
	}
}

// PipelineWithQualityStore sets the quality report store
func PipelineWithQualityStore(store QualityReportStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.quality = store
	}
}

// PipelineWithProvider sets the correction provider
func PipelineWithProvider(p provider.CorrectionProvider) PipelineServiceOption {
	return func(s *PipelineService) {
		s.correctionProvider = p
	}
}

// PipelineWithArchiver sets the finalized-draft archiver
func PipelineWithArchiver(archiver DraftArchiver) PipelineServiceOption {
	return func(s *PipelineService) {
		s.archiver = archiver
	}
}

// PipelineWithBatchSize overrides the correction batch size
func PipelineWithBatchSize(size int) PipelineServiceOption {
	return func(s *PipelineService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// PipelineWithMaxConcurrent caps concurrent pipeline executions across cases
func PipelineWithMaxConcurrent(max int) PipelineServiceOption {
	return func(s *PipelineService) {
		if max > 0 {
			s.slots = make(chan struct{}, max)
		}
	}
}

// PipelineWithLease sets the per-case lease registry
func PipelineWithLease(lease *CaseLease) PipelineServiceOption {
	return func(s *PipelineService) {
		s.lease = lease
	}
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(opts ...PipelineServiceOption) *PipelineService {
	s := &PipelineService{
		staleness: NewStalenessDetector(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lease == nil {
		s.lease = NewCaseLease(0)
	}
	if s.slots == nil {
		s.slots = make(chan struct{}, defaultMaxConcurrent)
	}
	return s
}

// RunHandle is a started pipeline run plus its stage update stream. Updates
// is closed when the run reaches a terminal state.
type RunHandle struct {
	Run     *models.PipelineRun
	Updates <-chan models.StageState
}

// StartRun acquires the case lease, creates a fresh run and executes it in
// the background. Exactly one run or correction-apply operation may be in
// flight per case; a second caller gets ErrCaseBusy.
func (s *PipelineService) StartRun(ctx context.Context, caseID uuid.UUID) (*RunHandle, error) {
	if s.runs == nil {
		return nil, errors.New("pipeline run store not set")
	}
	if s.caseRecordStore == nil {
		return nil, errors.New("case record store not set")
	}
	if s.correctionProvider == nil {
		return nil, errors.New("correction provider not set")
	}

	if err := s.lease.Acquire(caseID); err != nil {
		return nil, err
	}

	// The previous run (if any) carries the stage completions staleness
	// gating compares against on re-entry.
	prior, err := s.runs.GetLatestByCaseID(ctx, caseID)
	if err != nil {
		prior = nil
	}

	run := &models.PipelineRun{
		CaseID:          caseID,
		Status:          models.RunPending,
		Stages:          newStageStates(),
		PendingFindings: models.Findings{},
	}
	if err := s.runs.Create(ctx, run); err != nil {
		s.lease.Release(caseID)
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}

	updates := make(chan models.StageState, len(models.PipelineStages)+1)
	go s.execute(context.Background(), run, prior, updates)

	return &RunHandle{Run: run, Updates: updates}, nil
}

func newStageStates() models.StageStates {
	stages := make(models.StageStates, 0, len(models.PipelineStages))
	for _, name := range models.PipelineStages {
		stages = append(stages, models.StageState{
			Name:   name,
			Status: models.StagePending,
		})
	}
	return stages
}

// runState is the working state threaded through one execution. The case
// record is a private copy: auto-fixes apply to the run, never back to the
// consolidation-owned row.
type runState struct {
	run    *models.PipelineRun
	prior  *models.PipelineRun
	record *models.CaseRecord
	report *models.QualityReport
	latest *models.DraftVersion
}

// execute runs the stage sequence. Stages run strictly in order, never in
// parallel; a failed stage stops the run with every previously completed
// stage's output retained.
func (s *PipelineService) execute(ctx context.Context, run *models.PipelineRun, prior *models.PipelineRun, updates chan<- models.StageState) {
	s.slots <- struct{}{}
	defer func() { <-s.slots }()
	defer s.lease.Release(run.CaseID)
	defer close(updates)

	if err := s.runs.UpdateStatus(ctx, run.ID, models.RunRunning); err != nil {
		log.Printf("Warning: failed to mark run %s running: %v", run.ID, err)
	}
	run.Status = models.RunRunning

	record, err := s.caseRecordStore.GetByCaseID(ctx, run.CaseID)
	if err != nil {
		s.failRun(ctx, run, models.StageQualityAnalysis, fmt.Errorf("case record not found: %w", err), updates)
		return
	}
	recordCopy := *record

	state := &runState{run: run, prior: prior, record: &recordCopy}
	if latest, err := s.versions.GetLatest(ctx, run.CaseID); err == nil {
		state.latest = latest
	}

	for _, name := range models.PipelineStages {
		if s.bypassStage(ctx, state, name, updates) {
			continue
		}

		s.markStage(ctx, run, name, models.StageRunning, "", updates)

		message, err := s.runStage(ctx, name, state)
		if err != nil {
			s.failRun(ctx, run, name, err, updates)
			return
		}

		s.completeStage(ctx, state, name, message, updates)
	}

	if err := s.runs.Complete(ctx, run.ID); err != nil {
		log.Printf("Warning: failed to mark run %s completed: %v", run.ID, err)
	}
	run.Status = models.RunCompleted
}

// bypassStage applies the re-entry rule: a stage whose previous completion
// is still valid for the current upstream state is treated as satisfied.
// Stale or content-invalid results are never served as fresh.
func (s *PipelineService) bypassStage(ctx context.Context, state *runState, name models.PipelineStage, updates chan<- models.StageState) bool {
	if state.prior == nil {
		return false
	}
	priorStage := state.prior.StageState(name)
	if s.staleness.IsStale(priorStage, state.latest, state.record.UpdatedAt) {
		return false
	}
	if state.latest != nil {
		if invalid, reason := s.staleness.ContentInvalid(state.latest.Content); invalid {
			log.Printf("Warning: draft version %s invalid (%s), re-executing %s", state.latest.ID, reason, name)
			return false
		}
	}

	// CriticAnalysis results include the pending finding set; carry it into
	// this run so CorrectionApplication sees it.
	if name == models.StageCriticAnalysis {
		state.run.PendingFindings = state.prior.PendingFindings
		state.run.RiskScore = state.prior.RiskScore
		if err := s.runs.UpdateWorkingState(ctx, state.run.ID, state.run.PendingFindings, state.run.RiskScore); err != nil {
			log.Printf("Warning: failed to carry working state into run %s: %v", state.run.ID, err)
			return false
		}
	}

	stage := state.run.StageState(name)
	stage.AnalyzedVersionID = priorStage.AnalyzedVersionID
	stage.AnalyzedAt = priorStage.AnalyzedAt
	s.markStage(ctx, state.run, name, models.StageCompleted, "previous result still valid for current draft; not re-executed", updates)
	return true
}

func (s *PipelineService) runStage(ctx context.Context, name models.PipelineStage, state *runState) (string, error) {
	switch name {
	case models.StageQualityAnalysis:
		return s.stageQualityAnalysis(ctx, state)
	case models.StageAutoFix:
		return s.stageAutoFix(ctx, state)
	case models.StageDraftGeneration:
		return s.stageDraftGeneration(ctx, state)
	case models.StageCriticAnalysis:
		return s.stageCriticAnalysis(ctx, state)
	case models.StageCorrectionApplication:
		return s.stageCorrectionApplication(ctx, state)
	case models.StageRegionalAdaptation:
		return s.stageRegionalAdaptation(ctx, state)
	case models.StageAppellateAnalysis:
		return s.stageAppellateAnalysis(ctx, state)
	case models.StageFinalization:
		return s.stageFinalization(ctx, state)
	default:
		return "", fmt.Errorf("unknown stage: %s", name)
	}
}

func (s *PipelineService) stageQualityAnalysis(ctx context.Context, state *runState) (string, error) {
	state.report = ComputeQualityReport(state.record)
	if s.quality != nil {
		if err := s.quality.Upsert(ctx, state.report); err != nil {
			return "", fmt.Errorf("failed to store quality report: %w", err)
		}
	}
	return fmt.Sprintf("quality status %s, %d missing fields, %d issues",
		state.report.Status, len(state.report.MissingFields), len(state.report.Issues)), nil
}

func (s *PipelineService) stageAutoFix(ctx context.Context, state *runState) (string, error) {
	if state.report != nil && state.report.Status == models.QualityApproved {
		return "quality already approved; nothing to fix", nil
	}

	fixes := AutoFixRecord(state.record)
	for _, fix := range fixes {
		s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
			Type:        "auto_fix",
			Module:      string(models.StageAutoFix),
			After:       fix,
			Confidence:  1.0,
			AutoApplied: true,
		})
	}

	state.report = ComputeQualityReport(state.record)
	if s.quality != nil {
		if err := s.quality.Upsert(ctx, state.report); err != nil {
			return "", fmt.Errorf("failed to store quality report: %w", err)
		}
	}

	// Drafting needs the required field set; stop here rather than generate
	// a petition with holes in it.
	if !state.report.DataComplete {
		return "", &ValidationError{MissingFields: state.report.MissingFields}
	}

	if len(fixes) == 0 {
		return "no automatic fixes applicable", nil
	}
	return fmt.Sprintf("%d automatic fixes applied", len(fixes)), nil
}

func (s *PipelineService) stageDraftGeneration(ctx context.Context, state *runState) (string, error) {
	if state.latest != nil {
		invalid, reason := s.staleness.ContentInvalid(state.latest.Content)
		newerData := state.record.UpdatedAt.After(state.latest.GeneratedAt)
		if !invalid && !newerData {
			return "current draft still reflects case data; generation skipped", nil
		}
		if invalid {
			log.Printf("Warning: regenerating draft for case %s: %s", state.run.CaseID, reason)
		}
	}

	content, err := s.correctionProvider.Generate(ctx, state.record)
	if err != nil {
		return "", err
	}

	before := ""
	if state.latest != nil {
		before = snippet(state.latest.Content)
	}

	// Full regeneration resets every accumulated flag.
	version, err := s.persistVersion(ctx, state, content, models.VersionFlags{}, false)
	if err != nil {
		return "", err
	}

	s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
		Type:        "draft_generated",
		Module:      string(models.StageDraftGeneration),
		Before:      before,
		After:       snippet(version.Content),
		Confidence:  1.0,
		AutoApplied: true,
	})

	return "new draft generated", nil
}

func (s *PipelineService) stageCriticAnalysis(ctx context.Context, state *runState) (string, error) {
	if state.latest == nil {
		return "", ErrDraftNotFound
	}

	critique, err := s.correctionProvider.Critique(ctx, state.latest.Content, state.record)
	if err != nil {
		return "", err
	}

	state.run.PendingFindings = critique.Findings
	state.run.RiskScore = critique.RiskScore
	if err := s.runs.UpdateWorkingState(ctx, state.run.ID, state.run.PendingFindings, state.run.RiskScore); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
		Type:        "critique",
		Module:      string(models.StageCriticAnalysis),
		After:       fmt.Sprintf("%d findings, risk score %d", len(critique.Findings), critique.RiskScore),
		Confidence:  float64(100-critique.RiskScore) / 100,
		AutoApplied: true,
	})

	return fmt.Sprintf("%d findings identified, risk score %d", len(critique.Findings), critique.RiskScore), nil
}

func (s *PipelineService) stageCorrectionApplication(ctx context.Context, state *runState) (string, error) {
	pending := state.run.PendingFindings
	if len(pending) == 0 {
		return "critic found no issues; nothing to apply", nil
	}

	applied, batches, err := s.applyInBatches(ctx, state, pending, true)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("applied %d findings in %d batches", applied, batches), nil
}

// applyInBatches applies findings in fixed-size batches, sequentially, each
// batch's output draft feeding the next batch. Batch order follows the
// original findings order; batching bounds per-call latency against the
// provider.
func (s *PipelineService) applyInBatches(ctx context.Context, state *runState, findings models.Findings, autoApplied bool) (int, int, error) {
	applied := 0
	batches := 0

	for start := 0; start < len(findings); start += s.batchSize {
		end := start + s.batchSize
		if end > len(findings) {
			end = len(findings)
		}
		batch := findings[start:end]

		if state.latest == nil {
			return applied, batches, ErrDraftNotFound
		}

		corrected, err := s.correctionProvider.ApplyCorrections(ctx, state.latest.Content, batch)
		if err != nil {
			return applied, batches, err
		}
		if corrected == "" {
			return applied, batches, provider.ErrEmptyResponse
		}

		flags := models.VersionFlags{}
		if !autoApplied {
			flags.CorrectedByJudge = true
		}
		before := snippet(state.latest.Content)
		if _, err := s.persistVersion(ctx, state, corrected, flags, true); err != nil {
			return applied, batches, err
		}

		// Risk decrements by the batch-accumulated severity total, floored
		// at zero; clearing the last finding drives it to exactly zero.
		state.run.RiskScore -= models.TotalRiskDelta(batch)
		if state.run.RiskScore < 0 {
			state.run.RiskScore = 0
		}
		state.run.PendingFindings = removeFindings(state.run.PendingFindings, batch)
		if len(state.run.PendingFindings) == 0 {
			state.run.RiskScore = 0
		}
		if err := s.runs.UpdateWorkingState(ctx, state.run.ID, state.run.PendingFindings, state.run.RiskScore); err != nil {
			return applied, batches, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		descriptions := make([]string, 0, len(batch))
		for _, f := range batch {
			descriptions = append(descriptions, f.Description)
		}
		s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
			Type:        "corrections_applied",
			Module:      string(models.StageCorrectionApplication),
			Before:      before,
			After:       snippet(corrected) + "\n\nresolved: " + strings.Join(descriptions, "; "),
			Confidence:  0.8,
			AutoApplied: autoApplied,
		})

		applied += len(batch)
		batches++
	}

	return applied, batches, nil
}

func (s *PipelineService) stageRegionalAdaptation(ctx context.Context, state *runState) (string, error) {
	if state.latest == nil {
		return "", ErrDraftNotFound
	}
	if state.record.Jurisdiction == "" {
		return "no jurisdiction identified; regional adaptation not applicable", nil
	}

	result, err := s.correctionProvider.AdaptRegional(ctx, state.latest.Content, state.record.Jurisdiction)
	if err != nil {
		return "", err
	}

	before := snippet(state.latest.Content)
	flags := models.VersionFlags{RegionalAdaptationsApplied: true}
	if _, err := s.persistVersion(ctx, state, result.AdaptedDraft, flags, true); err != nil {
		return "", err
	}

	s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
		Type:        "regional_adaptation",
		Module:      string(models.StageRegionalAdaptation),
		Before:      before,
		After:       strings.Join(result.Suggestions, "; "),
		Confidence:  0.8,
		AutoApplied: true,
	})

	return fmt.Sprintf("adapted to %s (%d suggestions)", state.record.Jurisdiction, len(result.Suggestions)), nil
}

func (s *PipelineService) stageAppellateAnalysis(ctx context.Context, state *runState) (string, error) {
	if state.latest == nil {
		return "", ErrDraftNotFound
	}

	result, err := s.correctionProvider.AdaptAppellate(ctx, state.latest.Content, state.record)
	if err != nil {
		return "", err
	}

	before := snippet(state.latest.Content)
	flags := models.VersionFlags{AppellateAdaptationsApplied: true}
	if _, err := s.persistVersion(ctx, state, result.AdaptedDraft, flags, true); err != nil {
		return "", err
	}

	s.appendHistory(ctx, state.run.CaseID, &models.CorrectionEntry{
		Type:        "appellate_adaptation",
		Module:      string(models.StageAppellateAnalysis),
		Before:      before,
		After:       fmt.Sprintf("appeal risk %d; %s", result.AppealRiskEstimate, strings.Join(result.Suggestions, "; ")),
		Confidence:  0.8,
		AutoApplied: true,
	})

	return fmt.Sprintf("appellate reinforcement applied, appeal risk %d", result.AppealRiskEstimate), nil
}

func (s *PipelineService) stageFinalization(ctx context.Context, state *runState) (string, error) {
	if state.latest == nil {
		return "", ErrDraftNotFound
	}

	if invalid, reason := s.staleness.ContentInvalid(state.latest.Content); invalid {
		return "", fmt.Errorf("draft failed integrity check: %s", reason)
	}

	flags := models.VersionFlags{FinalVersion: true}
	version, err := s.persistVersion(ctx, state, state.latest.Content, flags, true)
	if err != nil {
		return "", err
	}

	// Corrections were applied along the way; the report is recomputed
	// wholesale, never patched.
	state.report = ComputeQualityReport(state.record)
	if s.quality != nil {
		if err := s.quality.Upsert(ctx, state.report); err != nil {
			return "", fmt.Errorf("failed to store quality report: %w", err)
		}
	}

	if s.archiver != nil {
		path, err := s.archiver.Archive(ctx, state.run.CaseID, version.ID, version.Content)
		if err != nil {
			log.Printf("Warning: failed to archive final draft for case %s: %v", state.run.CaseID, err)
		} else {
			return "final version archived at " + path, nil
		}
	}

	return "final version recorded", nil
}

// persistVersion appends a new immutable draft version, carrying forward
// the predecessor's flags unless this is a full regeneration. Write
// failures after a successful provider call are fatal to the operation.
func (s *PipelineService) persistVersion(ctx context.Context, state *runState, content string, flags models.VersionFlags, carryFlags bool) (*models.DraftVersion, error) {
	if carryFlags && state.latest != nil {
		flags = flags.Merge(state.latest.Flags)
	}

	version := &models.DraftVersion{
		CaseID:      state.run.CaseID,
		Content:     content,
		ContentHash: ContentHash(content),
		Flags:       flags,
	}
	if err := s.versions.Create(ctx, version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	state.latest = version
	return version, nil
}

func (s *PipelineService) markStage(ctx context.Context, run *models.PipelineRun, name models.PipelineStage, status models.StageStatus, message string, updates chan<- models.StageState) {
	now := time.Now()
	stage := run.StageState(name)
	if stage == nil {
		return
	}

	stage.Status = status
	stage.Message = message
	switch status {
	case models.StageRunning:
		stage.StartedAt = &now
		stage.Progress = 0
	case models.StageCompleted:
		if stage.StartedAt == nil {
			stage.StartedAt = &now
		}
		stage.EndedAt = &now
		stage.Progress = 100
	case models.StageFailed:
		stage.EndedAt = &now
	}

	current := string(name)
	run.CurrentStage = &current
	if err := s.runs.UpdateProgress(ctx, run.ID, current, run.Stages); err != nil {
		log.Printf("Warning: failed to persist stage progress for run %s: %v", run.ID, err)
	}

	select {
	case updates <- *stage:
	default:
	}
}

// completeStage records which upstream state the stage result was derived
// from, for staleness checks on later re-entry.
func (s *PipelineService) completeStage(ctx context.Context, state *runState, name models.PipelineStage, message string, updates chan<- models.StageState) {
	now := time.Now()
	stage := state.run.StageState(name)
	if stage != nil {
		stage.AnalyzedAt = &now
		if state.latest != nil {
			id := state.latest.ID
			stage.AnalyzedVersionID = &id
		}
	}
	s.markStage(ctx, state.run, name, models.StageCompleted, message, updates)
}

func (s *PipelineService) failRun(ctx context.Context, run *models.PipelineRun, name models.PipelineStage, err error, updates chan<- models.StageState) {
	s.markStage(ctx, run, name, models.StageFailed, err.Error(), updates)

	message := fmt.Sprintf("stage %s failed: %v", name, err)
	if failErr := s.runs.Fail(ctx, run.ID, message); failErr != nil {
		log.Printf("Warning: failed to mark run %s failed: %v", run.ID, failErr)
	}
	run.Status = models.RunFailed
	run.ErrorMessage = &message

	log.Printf("Pipeline run %s for case %s failed at %s: %v (%s)",
		run.ID, run.CaseID, name, err, provider.Classify(err))
}

func (s *PipelineService) appendHistory(ctx context.Context, caseID uuid.UUID, entry *models.CorrectionEntry) {
	if s.history == nil {
		return
	}
	entry.CaseID = caseID
	if err := s.history.Create(ctx, entry); err != nil {
		log.Printf("Warning: failed to append correction history for case %s: %v", caseID, err)
	}
}

func removeFindings(pending models.Findings, applied []models.Finding) models.Findings {
	appliedIDs := make(map[uuid.UUID]bool, len(applied))
	for _, f := range applied {
		appliedIDs[f.ID] = true
	}
	remaining := models.Findings{}
	for _, f := range pending {
		if !appliedIDs[f.ID] {
			remaining = append(remaining, f)
		}
	}
	return remaining
}

func snippet(s string) string {
	if len(s) <= historySnippetLen {
		return s
	}
	return s[:historySnippetLen] + "..."
}

// ApplyFindingRequest represents a request to apply a single finding
type ApplyFindingRequest struct {
	CaseID    uuid.UUID
	FindingID uuid.UUID
}

// ApplyFindingResult represents the result of applying a single finding
type ApplyFindingResult struct {
	Draft             *models.DraftVersion
	RiskScore         int
	RemainingFindings models.Findings
}

// ApplyFinding applies one selected finding independently of the pipeline:
// the risk score drops by exactly that finding's severity delta (floored at
// zero) and only that finding leaves the pending set.
func (s *PipelineService) ApplyFinding(ctx context.Context, req ApplyFindingRequest) (*ApplyFindingResult, error) {
	if err := s.lease.Acquire(req.CaseID); err != nil {
		return nil, err
	}
	defer s.lease.Release(req.CaseID)

	run, err := s.runs.GetLatestByCaseID(ctx, req.CaseID)
	if err != nil {
		return nil, ErrRunNotFound
	}
	if len(run.PendingFindings) == 0 {
		return nil, ErrNoPendingFindings
	}

	var selected *models.Finding
	for i := range run.PendingFindings {
		if run.PendingFindings[i].ID == req.FindingID {
			selected = &run.PendingFindings[i]
			break
		}
	}
	if selected == nil {
		return nil, ErrFindingNotFound
	}

	latest, err := s.versions.GetLatest(ctx, req.CaseID)
	if err != nil {
		return nil, ErrDraftNotFound
	}

	corrected, err := s.correctionProvider.ApplyCorrections(ctx, latest.Content, []models.Finding{*selected})
	if err != nil {
		return nil, err
	}
	if corrected == "" {
		return nil, provider.ErrEmptyResponse
	}

	version := &models.DraftVersion{
		CaseID:      req.CaseID,
		Content:     corrected,
		ContentHash: ContentHash(corrected),
		Flags:       models.VersionFlags{CorrectedByJudge: true}.Merge(latest.Flags),
	}
	if err := s.versions.Create(ctx, version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	risk := run.RiskScore - selected.Severity.RiskDelta()
	if risk < 0 {
		risk = 0
	}
	remaining := removeFindings(run.PendingFindings, []models.Finding{*selected})
	if len(remaining) == 0 {
		risk = 0
	}
	if err := s.runs.UpdateWorkingState(ctx, run.ID, remaining, risk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.appendHistory(ctx, req.CaseID, &models.CorrectionEntry{
		Type:        "finding_applied",
		Module:      string(models.StageCorrectionApplication),
		Before:      snippet(latest.Content),
		After:       snippet(corrected),
		Confidence:  0.8,
		AutoApplied: false,
	})

	return &ApplyFindingResult{
		Draft:             version,
		RiskScore:         risk,
		RemainingFindings: remaining,
	}, nil
}

// ApplyFindingsBatchRequest represents a request to apply selected findings
type ApplyFindingsBatchRequest struct {
	CaseID     uuid.UUID
	FindingIDs []uuid.UUID
}

// ApplyFindingsBatchResult represents the result of a batch application
type ApplyFindingsBatchResult struct {
	Draft             *models.DraftVersion
	RiskScore         int
	RemainingFindings models.Findings
}

// ApplyFindingsBatch applies the selected findings in fixed-size batches,
// sequentially chained, in original findings order.
func (s *PipelineService) ApplyFindingsBatch(ctx context.Context, req ApplyFindingsBatchRequest) (*ApplyFindingsBatchResult, error) {
	if err := s.lease.Acquire(req.CaseID); err != nil {
		return nil, err
	}
	defer s.lease.Release(req.CaseID)

	run, err := s.runs.GetLatestByCaseID(ctx, req.CaseID)
	if err != nil {
		return nil, ErrRunNotFound
	}
	if len(run.PendingFindings) == 0 {
		return nil, ErrNoPendingFindings
	}

	selectedIDs := make(map[uuid.UUID]bool, len(req.FindingIDs))
	for _, id := range req.FindingIDs {
		selectedIDs[id] = true
	}

	// Selection preserves the original pending order, not request order.
	selected := models.Findings{}
	for _, f := range run.PendingFindings {
		if selectedIDs[f.ID] {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return nil, ErrFindingNotFound
	}

	latest, err := s.versions.GetLatest(ctx, req.CaseID)
	if err != nil {
		return nil, ErrDraftNotFound
	}

	state := &runState{run: run, latest: latest}
	if _, _, err := s.applyInBatches(ctx, state, selected, false); err != nil {
		return nil, err
	}

	return &ApplyFindingsBatchResult{
		Draft:             state.latest,
		RiskScore:         run.RiskScore,
		RemainingFindings: run.PendingFindings,
	}, nil
}

// LatestDraftRequest represents a request for the current draft
type LatestDraftRequest struct {
	CaseID uuid.UUID
}

// LatestDraftResult is the current draft plus its staleness verdict
type LatestDraftResult struct {
	Draft   *models.DraftVersion
	IsStale bool
}

// GetLatestDraft resolves the current draft version and reports whether it
// still reflects the case data.
func (s *PipelineService) GetLatestDraft(ctx context.Context, req LatestDraftRequest) (*LatestDraftResult, error) {
	latest, err := s.versions.GetLatest(ctx, req.CaseID)
	if err != nil {
		return nil, ErrDraftNotFound
	}

	stale := false
	if invalid, _ := s.staleness.ContentInvalid(latest.Content); invalid {
		stale = true
	}
	if record, err := s.caseRecordStore.GetByCaseID(ctx, req.CaseID); err == nil {
		if record.UpdatedAt.After(latest.GeneratedAt) {
			stale = true
		}
	}

	return &LatestDraftResult{Draft: latest, IsStale: stale}, nil
}

// GetRunRequest represents a request to read a pipeline run
type GetRunRequest struct {
	RunID uuid.UUID
}

// GetRunResult represents the result of reading a run
type GetRunResult struct {
	Run *models.PipelineRun
}

// GetRun retrieves a pipeline run with its stage states
func (s *PipelineService) GetRun(ctx context.Context, req GetRunRequest) (*GetRunResult, error) {
	run, err := s.runs.GetByID(ctx, req.RunID)
	if err != nil {
		return nil, ErrRunNotFound
	}
	return &GetRunResult{Run: run}, nil
}

// GetLatestRun retrieves the most recent pipeline run for a case, carrying
// the pending findings and current risk score.
func (s *PipelineService) GetLatestRun(ctx context.Context, caseID uuid.UUID) (*GetRunResult, error) {
	run, err := s.runs.GetLatestByCaseID(ctx, caseID)
	if err != nil {
		return nil, ErrRunNotFound
	}
	return &GetRunResult{Run: run}, nil
}

// GetDraftHistory lists every draft version of a case, newest first
func (s *PipelineService) GetDraftHistory(ctx context.Context, caseID uuid.UUID) ([]*models.DraftVersion, error) {
	return s.versions.ListByCaseID(ctx, caseID)
}

// GetQualityReport reads the stored quality report for a case
func (s *PipelineService) GetQualityReport(ctx context.Context, caseID uuid.UUID) (*models.QualityReport, error) {
	if s.quality == nil {
		return nil, errors.New("quality report store not set")
	}
	report, err := s.quality.Get(ctx, caseID, DocumentTypeInitialPetition)
	if err != nil {
		return nil, fmt.Errorf("quality report not found: %w", err)
	}
	return report, nil
}

// GetCorrectionHistory lists the audit trail for a case, newest first
func (s *PipelineService) GetCorrectionHistory(ctx context.Context, caseID uuid.UUID, limit int) ([]*models.CorrectionEntry, error) {
	if s.history == nil {
		return nil, errors.New("correction history store not set")
	}
	return s.history.ListByCaseID(ctx, caseID, limit)
}
