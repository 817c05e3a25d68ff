package repository

import (
	"context"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QualityReportRepository handles database operations for quality reports.
// One current row per (case_id, document_type), overwritten on each
// recomputation.
type QualityReportRepository struct {
	db *pgxpool.Pool
}

// NewQualityReportRepository creates a new quality report repository
func NewQualityReportRepository(db *pgxpool.Pool) *QualityReportRepository {
	return &QualityReportRepository{db: db}
}

// Upsert replaces the current report for (case, document type)
func (r *QualityReportRepository) Upsert(ctx context.Context, report *models.QualityReport) error {
	query := `
		INSERT INTO quality_reports (
			case_id, document_type, status, addressing_ok, data_complete,
			value_of_claim_validated, jurisdiction_ok, missing_fields, issues
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (case_id, document_type) DO UPDATE SET
			status = EXCLUDED.status,
			addressing_ok = EXCLUDED.addressing_ok,
			data_complete = EXCLUDED.data_complete,
			value_of_claim_validated = EXCLUDED.value_of_claim_validated,
			jurisdiction_ok = EXCLUDED.jurisdiction_ok,
			missing_fields = EXCLUDED.missing_fields,
			issues = EXCLUDED.issues,
			computed_at = NOW()
		RETURNING computed_at`

	err := r.db.QueryRow(
		ctx, query,
		report.CaseID,
		report.DocumentType,
		report.Status,
		report.AddressingOK,
		report.DataComplete,
		report.ValueOfClaimValidated,
		report.JurisdictionOK,
		report.MissingFields,
		report.Issues,
	).Scan(&report.ComputedAt)

	return err
}

// Get retrieves the current report for (case, document type)
func (r *QualityReportRepository) Get(ctx context.Context, caseID uuid.UUID, documentType string) (*models.QualityReport, error) {
	report := &models.QualityReport{}
	query := `
		SELECT case_id, document_type, status, addressing_ok, data_complete,
			value_of_claim_validated, jurisdiction_ok, missing_fields,
			issues, computed_at
		FROM quality_reports
		WHERE case_id = $1 AND document_type = $2`

	err := r.db.QueryRow(ctx, query, caseID, documentType).Scan(
		&report.CaseID,
		&report.DocumentType,
		&report.Status,
		&report.AddressingOK,
		&report.DataComplete,
		&report.ValueOfClaimValidated,
		&report.JurisdictionOK,
		&report.MissingFields,
		&report.Issues,
		&report.ComputedAt,
	)

	if err != nil {
		return nil, err
	}

	return report, nil
}
