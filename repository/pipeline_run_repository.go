package repository

import (
	"context"
	"time"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineRunRepository handles database operations for pipeline runs
type PipelineRunRepository struct {
	db *pgxpool.Pool
}

// NewPipelineRunRepository creates a new pipeline run repository
func NewPipelineRunRepository(db *pgxpool.Pool) *PipelineRunRepository {
	return &PipelineRunRepository{db: db}
}

// Create creates a new pipeline run
func (r *PipelineRunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (
			case_id, status, current_stage, stages, pending_findings,
			risk_score, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		run.CaseID,
		run.Status,
		run.CurrentStage,
		run.Stages,
		run.PendingFindings,
		run.RiskScore,
		run.ErrorMessage,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)

	return err
}

// GetByID retrieves a pipeline run by ID
func (r *PipelineRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	query := `
		SELECT id, case_id, status, current_stage, stages, pending_findings,
			risk_score, error_message, created_at, updated_at, completed_at
		FROM pipeline_runs
		WHERE id = $1`

	return r.scanRun(r.db.QueryRow(ctx, query, id))
}

// GetLatestByCaseID retrieves the most recent pipeline run for a case
func (r *PipelineRunRepository) GetLatestByCaseID(ctx context.Context, caseID uuid.UUID) (*models.PipelineRun, error) {
	query := `
		SELECT id, case_id, status, current_stage, stages, pending_findings,
			risk_score, error_message, created_at, updated_at, completed_at
		FROM pipeline_runs
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	return r.scanRun(r.db.QueryRow(ctx, query, caseID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PipelineRunRepository) scanRun(row rowScanner) (*models.PipelineRun, error) {
	run := &models.PipelineRun{}
	err := row.Scan(
		&run.ID,
		&run.CaseID,
		&run.Status,
		&run.CurrentStage,
		&run.Stages,
		&run.PendingFindings,
		&run.RiskScore,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.Stages == nil {
		run.Stages = make(models.StageStates, 0)
	}
	if run.PendingFindings == nil {
		run.PendingFindings = make(models.Findings, 0)
	}

	return run, nil
}

// UpdateStatus updates the status of a pipeline run
func (r *PipelineRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PipelineRunStatus) error {
	query := `
		UPDATE pipeline_runs SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// UpdateProgress persists the stage list and current stage of a run
func (r *PipelineRunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, currentStage string, stages models.StageStates) error {
	query := `
		UPDATE pipeline_runs SET
			current_stage = $2,
			stages = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, currentStage, stages)
	return err
}

// UpdateWorkingState persists the pending finding set and risk score
func (r *PipelineRunRepository) UpdateWorkingState(ctx context.Context, id uuid.UUID, findings models.Findings, riskScore int) error {
	query := `
		UPDATE pipeline_runs SET
			pending_findings = $2,
			risk_score = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, findings, riskScore)
	return err
}

// Complete marks a pipeline run as completed
func (r *PipelineRunRepository) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	query := `
		UPDATE pipeline_runs SET
			status = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunCompleted, now)
	return err
}

// Fail marks a pipeline run as failed
func (r *PipelineRunRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE pipeline_runs SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunFailed, errorMessage)
	return err
}
