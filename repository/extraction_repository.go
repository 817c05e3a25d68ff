package repository

import (
	"context"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExtractionRepository handles database operations for extraction records.
// The extractions table is append-only, keyed by (case_id, document_id).
type ExtractionRepository struct {
	db *pgxpool.Pool
}

// NewExtractionRepository creates a new extraction repository
func NewExtractionRepository(db *pgxpool.Pool) *ExtractionRepository {
	return &ExtractionRepository{db: db}
}

// Create appends a new extraction record. Resubmitting the same document is
// a no-op; the conflict arm is a self-assignment so the existing row still
// comes back.
func (r *ExtractionRepository) Create(ctx context.Context, extraction *models.ExtractionRecord) error {
	query := `
		INSERT INTO extractions (
			case_id, document_id, entities, auto_filled_fields,
			rural_periods, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id, document_id) DO UPDATE
			SET document_id = extractions.document_id
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		extraction.CaseID,
		extraction.DocumentID,
		extraction.Entities,
		extraction.AutoFilledFields,
		extraction.RuralPeriods,
		extraction.ExtractedAt,
	).Scan(&extraction.ID, &extraction.CreatedAt)

	return err
}

// ListByCaseID retrieves all extractions for a case ordered by extraction
// time ascending, insertion order breaking ties.
func (r *ExtractionRepository) ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]*models.ExtractionRecord, error) {
	query := `
		SELECT id, case_id, document_id, entities, auto_filled_fields,
			rural_periods, extracted_at, created_at
		FROM extractions
		WHERE case_id = $1
		ORDER BY extracted_at ASC, created_at ASC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var extractions []*models.ExtractionRecord
	for rows.Next() {
		extraction := &models.ExtractionRecord{}
		err := rows.Scan(
			&extraction.ID,
			&extraction.CaseID,
			&extraction.DocumentID,
			&extraction.Entities,
			&extraction.AutoFilledFields,
			&extraction.RuralPeriods,
			&extraction.ExtractedAt,
			&extraction.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		extractions = append(extractions, extraction)
	}

	return extractions, rows.Err()
}
