package repository

import (
	"context"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CorrectionHistoryRepository handles database operations for the
// append-only correction audit log.
type CorrectionHistoryRepository struct {
	db *pgxpool.Pool
}

// NewCorrectionHistoryRepository creates a new correction history repository
func NewCorrectionHistoryRepository(db *pgxpool.Pool) *CorrectionHistoryRepository {
	return &CorrectionHistoryRepository{db: db}
}

// Create appends an audit entry
func (r *CorrectionHistoryRepository) Create(ctx context.Context, entry *models.CorrectionEntry) error {
	query := `
		INSERT INTO correction_history (
			case_id, type, module, before, after, confidence, auto_applied
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		entry.CaseID,
		entry.Type,
		entry.Module,
		entry.Before,
		entry.After,
		entry.Confidence,
		entry.AutoApplied,
	).Scan(&entry.ID, &entry.CreatedAt)

	return err
}

// ListByCaseID retrieves the audit log for a case, newest first
func (r *CorrectionHistoryRepository) ListByCaseID(ctx context.Context, caseID uuid.UUID, limit int) ([]*models.CorrectionEntry, error) {
	query := `
		SELECT id, case_id, type, module, before, after, confidence,
			auto_applied, created_at
		FROM correction_history
		WHERE case_id = $1
		ORDER BY created_at DESC`

	args := []interface{}{caseID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.CorrectionEntry
	for rows.Next() {
		entry := &models.CorrectionEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.CaseID,
			&entry.Type,
			&entry.Module,
			&entry.Before,
			&entry.After,
			&entry.Confidence,
			&entry.AutoApplied,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
