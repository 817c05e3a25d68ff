package repository

import (
	"context"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DraftVersionRepository handles database operations for draft versions.
// The table is an append-only version log: rows are never updated or
// deleted, and "latest" resolves to the maximum generated_at per case.
type DraftVersionRepository struct {
	db *pgxpool.Pool
}

// NewDraftVersionRepository creates a new draft version repository
func NewDraftVersionRepository(db *pgxpool.Pool) *DraftVersionRepository {
	return &DraftVersionRepository{db: db}
}

// Create appends a new immutable draft version
func (r *DraftVersionRepository) Create(ctx context.Context, version *models.DraftVersion) error {
	query := `
		INSERT INTO draft_versions (
			case_id, content, content_hash, flags
		) VALUES ($1, $2, $3, $4)
		RETURNING id, generated_at`

	err := r.db.QueryRow(
		ctx, query,
		version.CaseID,
		version.Content,
		version.ContentHash,
		version.Flags,
	).Scan(&version.ID, &version.GeneratedAt)

	return err
}

// GetLatest retrieves the current draft version for a case
func (r *DraftVersionRepository) GetLatest(ctx context.Context, caseID uuid.UUID) (*models.DraftVersion, error) {
	version := &models.DraftVersion{}
	query := `
		SELECT id, case_id, content, content_hash, flags, generated_at
		FROM draft_versions
		WHERE case_id = $1
		ORDER BY generated_at DESC
		LIMIT 1`

	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&version.ID,
		&version.CaseID,
		&version.Content,
		&version.ContentHash,
		&version.Flags,
		&version.GeneratedAt,
	)

	if err != nil {
		return nil, err
	}

	return version, nil
}

// ListByCaseID retrieves the full version history for a case, newest first
func (r *DraftVersionRepository) ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]*models.DraftVersion, error) {
	query := `
		SELECT id, case_id, content, content_hash, flags, generated_at
		FROM draft_versions
		WHERE case_id = $1
		ORDER BY generated_at DESC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.DraftVersion
	for rows.Next() {
		version := &models.DraftVersion{}
		err := rows.Scan(
			&version.ID,
			&version.CaseID,
			&version.Content,
			&version.ContentHash,
			&version.Flags,
			&version.GeneratedAt,
		)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}
