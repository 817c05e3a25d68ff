package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PipelineStage names the stages of a correction pipeline run, in execution
// order. Stages never run out of order and never in parallel.
type PipelineStage string

const (
	StageQualityAnalysis       PipelineStage = "QualityAnalysis"
	StageAutoFix               PipelineStage = "AutoFix"
	StageDraftGeneration       PipelineStage = "DraftGeneration"
	StageCriticAnalysis        PipelineStage = "CriticAnalysis"
	StageCorrectionApplication PipelineStage = "CorrectionApplication"
	StageRegionalAdaptation    PipelineStage = "RegionalAdaptation"
	StageAppellateAnalysis     PipelineStage = "AppellateAnalysis"
	StageFinalization          PipelineStage = "Finalization"
)

// PipelineStages is the strict stage sequence for every run.
var PipelineStages = []PipelineStage{
	StageQualityAnalysis,
	StageAutoFix,
	StageDraftGeneration,
	StageCriticAnalysis,
	StageCorrectionApplication,
	StageRegionalAdaptation,
	StageAppellateAnalysis,
	StageFinalization,
}

// StageStatus is the lifecycle status of one stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageState tracks one stage within one pipeline run. AnalyzedVersionID and
// AnalyzedAt record which upstream state the stage result was derived from;
// the staleness detector compares them against the current state on re-entry.
type StageState struct {
	Name              PipelineStage `json:"name"`
	Status            StageStatus   `json:"status"`
	Progress          int           `json:"progress"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	Message           string        `json:"message,omitempty"`
	AnalyzedVersionID *uuid.UUID    `json:"analyzed_version_id,omitempty"`
	AnalyzedAt        *time.Time    `json:"analyzed_at,omitempty"`
}

// StageStates is the ordered stage list of a run
type StageStates []StageState

// Value implements driver.Valuer for JSONB
func (s StageStates) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal(StageStates{})
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *StageStates) Scan(value interface{}) error {
	return scanJSONList(value, s, func() { *s = make(StageStates, 0) })
}

// Findings is the pending finding set carried in run working state
type Findings []Finding

// Value implements driver.Valuer for JSONB
func (f Findings) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(Findings{})
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB
func (f *Findings) Scan(value interface{}) error {
	return scanJSONList(value, f, func() { *f = make(Findings, 0) })
}

// PipelineRunStatus is the terminal state of a run
type PipelineRunStatus string

const (
	RunPending   PipelineRunStatus = "pending"
	RunRunning   PipelineRunStatus = "running"
	RunCompleted PipelineRunStatus = "completed"
	RunFailed    PipelineRunStatus = "failed"
)

// PipelineRun is one execution of the correction pipeline for a case.
// Stage states are created fresh per run and never reused across cases.
type PipelineRun struct {
	ID              uuid.UUID         `json:"id"`
	CaseID          uuid.UUID         `json:"case_id"`
	Status          PipelineRunStatus `json:"status"`
	CurrentStage    *string           `json:"current_stage,omitempty"`
	Stages          StageStates       `json:"stages"`
	PendingFindings Findings          `json:"pending_findings"`
	RiskScore       int               `json:"risk_score"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// StageState returns the state for a stage name, or nil if absent.
func (r *PipelineRun) StageState(name PipelineStage) *StageState {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}
