package repository

import (
	"context"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseRecordRepository handles database operations for consolidated case
// records. One row per case, replaced wholesale on each consolidation run.
type CaseRecordRepository struct {
	db *pgxpool.Pool
}

// NewCaseRecordRepository creates a new case record repository
func NewCaseRecordRepository(db *pgxpool.Pool) *CaseRecordRepository {
	return &CaseRecordRepository{db: db}
}

// Upsert replaces the consolidated record for a case
func (r *CaseRecordRepository) Upsert(ctx context.Context, record *models.CaseRecord) error {
	query := `
		INSERT INTO case_records (
			case_id, author_name, cpf, rg, birth_date, mother_name,
			father_name, marital_status, profession, address, city, state,
			nit, request_date, benefit_type, benefit_number, denial_reason,
			property_name, property_area, property_municipality,
			land_ownership, jurisdiction, value_of_claim,
			rural_periods, urban_periods, school_history, manual_benefits,
			family_members, health_declaration, consolidated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
			$27, $28, $29, $30
		)
		ON CONFLICT (case_id) DO UPDATE SET
			author_name = EXCLUDED.author_name,
			cpf = EXCLUDED.cpf,
			rg = EXCLUDED.rg,
			birth_date = EXCLUDED.birth_date,
			mother_name = EXCLUDED.mother_name,
			father_name = EXCLUDED.father_name,
			marital_status = EXCLUDED.marital_status,
			profession = EXCLUDED.profession,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			nit = EXCLUDED.nit,
			request_date = EXCLUDED.request_date,
			benefit_type = EXCLUDED.benefit_type,
			benefit_number = EXCLUDED.benefit_number,
			denial_reason = EXCLUDED.denial_reason,
			property_name = EXCLUDED.property_name,
			property_area = EXCLUDED.property_area,
			property_municipality = EXCLUDED.property_municipality,
			land_ownership = EXCLUDED.land_ownership,
			jurisdiction = EXCLUDED.jurisdiction,
			value_of_claim = EXCLUDED.value_of_claim,
			rural_periods = EXCLUDED.rural_periods,
			urban_periods = EXCLUDED.urban_periods,
			school_history = EXCLUDED.school_history,
			manual_benefits = EXCLUDED.manual_benefits,
			family_members = EXCLUDED.family_members,
			health_declaration = EXCLUDED.health_declaration,
			consolidated_at = EXCLUDED.consolidated_at,
			updated_at = NOW()
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		record.CaseID,
		record.AuthorName,
		record.CPF,
		record.RG,
		record.BirthDate,
		record.MotherName,
		record.FatherName,
		record.MaritalStatus,
		record.Profession,
		record.Address,
		record.City,
		record.State,
		record.NIT,
		record.RequestDate,
		record.BenefitType,
		record.BenefitNumber,
		record.DenialReason,
		record.PropertyName,
		record.PropertyArea,
		record.PropertyMunicipality,
		record.LandOwnership,
		record.Jurisdiction,
		record.ValueOfClaim,
		record.RuralPeriods,
		record.UrbanPeriods,
		record.SchoolHistory,
		record.ManualBenefits,
		record.FamilyMembers,
		record.HealthDeclaration,
		record.ConsolidatedAt,
	).Scan(&record.UpdatedAt)

	return err
}

// GetByCaseID retrieves the consolidated record for a case
func (r *CaseRecordRepository) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*models.CaseRecord, error) {
	record := &models.CaseRecord{}
	query := `
		SELECT case_id, author_name, cpf, rg, birth_date, mother_name,
			father_name, marital_status, profession, address, city, state,
			nit, request_date, benefit_type, benefit_number, denial_reason,
			property_name, property_area, property_municipality,
			land_ownership, jurisdiction, value_of_claim,
			rural_periods, urban_periods, school_history, manual_benefits,
			family_members, health_declaration, consolidated_at, updated_at
		FROM case_records
		WHERE case_id = $1`

	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&record.CaseID,
		&record.AuthorName,
		&record.CPF,
		&record.RG,
		&record.BirthDate,
		&record.MotherName,
		&record.FatherName,
		&record.MaritalStatus,
		&record.Profession,
		&record.Address,
		&record.City,
		&record.State,
		&record.NIT,
		&record.RequestDate,
		&record.BenefitType,
		&record.BenefitNumber,
		&record.DenialReason,
		&record.PropertyName,
		&record.PropertyArea,
		&record.PropertyMunicipality,
		&record.LandOwnership,
		&record.Jurisdiction,
		&record.ValueOfClaim,
		&record.RuralPeriods,
		&record.UrbanPeriods,
		&record.SchoolHistory,
		&record.ManualBenefits,
		&record.FamilyMembers,
		&record.HealthDeclaration,
		&record.ConsolidatedAt,
		&record.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return record, nil
}
