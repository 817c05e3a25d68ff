package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RuralPeriod is one interval of rural labor claimed by the author.
// StartDate/EndDate are kept as the extracted strings; parsing happens at
// sort time so a malformed date never blocks consolidation.
type RuralPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Property  string `json:"property,omitempty"`
	Activity  string `json:"activity,omitempty"`
	Regime    string `json:"regime,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// RuralPeriods is a list of rural labor periods
type RuralPeriods []RuralPeriod

// Value implements driver.Valuer for JSONB
func (p RuralPeriods) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(RuralPeriods{})
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *RuralPeriods) Scan(value interface{}) error {
	return scanJSONList(value, p, func() { *p = make(RuralPeriods, 0) })
}

// UrbanPeriod is one interval of urban employment.
type UrbanPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Employer  string `json:"employer,omitempty"`
	Role      string `json:"role,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// UrbanPeriods is a list of urban employment periods
type UrbanPeriods []UrbanPeriod

// Value implements driver.Valuer for JSONB
func (p UrbanPeriods) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(UrbanPeriods{})
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *UrbanPeriods) Scan(value interface{}) error {
	return scanJSONList(value, p, func() { *p = make(UrbanPeriods, 0) })
}

// SchoolEntry is one school attendance record, used as indirect proof of
// rural residence.
type SchoolEntry struct {
	Institution  string `json:"institution"`
	StartPeriod  string `json:"start_period"`
	EndPeriod    string `json:"end_period,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	IsRural      bool   `json:"is_rural,omitempty"`
}

// SchoolHistory is a list of school attendance records
type SchoolHistory []SchoolEntry

// Value implements driver.Valuer for JSONB
func (h SchoolHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(SchoolHistory{})
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for JSONB
func (h *SchoolHistory) Scan(value interface{}) error {
	return scanJSONList(value, h, func() { *h = make(SchoolHistory, 0) })
}

// ManualBenefit is a benefit the author already received or requested,
// entered manually or extracted from CNIS statements.
type ManualBenefit struct {
	BenefitNumber string `json:"benefit_number,omitempty"`
	BenefitType   string `json:"benefit_type"`
	Status        string `json:"status,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
}

// ManualBenefits is a list of benefits
type ManualBenefits []ManualBenefit

// Value implements driver.Valuer for JSONB
func (b ManualBenefits) Value() (driver.Value, error) {
	if b == nil {
		return json.Marshal(ManualBenefits{})
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB
func (b *ManualBenefits) Scan(value interface{}) error {
	return scanJSONList(value, b, func() { *b = make(ManualBenefits, 0) })
}

// FamilyMember is a member of the author's family group, relevant to the
// rural labor regime (regime de economia familiar).
type FamilyMember struct {
	Name         string `json:"name"`
	CPF          string `json:"cpf,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	BirthDate    string `json:"birth_date,omitempty"`
	Occupation   string `json:"occupation,omitempty"`
}

// FamilyMembers is a list of family members
type FamilyMembers []FamilyMember

// Value implements driver.Valuer for JSONB
func (f FamilyMembers) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(FamilyMembers{})
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB
func (f *FamilyMembers) Scan(value interface{}) error {
	return scanJSONList(value, f, func() { *f = make(FamilyMembers, 0) })
}

// HealthDeclaration is the nested health declaration map. Unlike scalar
// fields it merges last-write-wins across extractions, because later
// documents carry more specific detail.
type HealthDeclaration map[string]interface{}

// Value implements driver.Valuer for JSONB
func (h HealthDeclaration) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(HealthDeclaration{})
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for JSONB
func (h *HealthDeclaration) Scan(value interface{}) error {
	if value == nil {
		*h = make(HealthDeclaration)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*h = make(HealthDeclaration)
		return nil
	}

	if len(bytes) == 0 {
		*h = make(HealthDeclaration)
		return nil
	}

	return json.Unmarshal(bytes, h)
}

// scanJSONList handles the JSONB representations pgx may hand back for a
// list column.
func scanJSONList(value interface{}, dest interface{}, reset func()) error {
	if value == nil {
		reset()
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		reset()
		return nil
	}

	if len(bytes) == 0 {
		reset()
		return nil
	}

	return json.Unmarshal(bytes, dest)
}

// CaseRecord is the consolidated, canonical record for one legal case.
// It is owned exclusively by the consolidation step and rebuilt from scratch
// on every run; nothing else patches it incrementally.
type CaseRecord struct {
	CaseID uuid.UUID `json:"case_id"`

	// Author identity
	AuthorName    string `json:"author_name"`
	CPF           string `json:"cpf"`
	RG            string `json:"rg"`
	BirthDate     string `json:"birth_date"`
	MotherName    string `json:"mother_name"`
	FatherName    string `json:"father_name"`
	MaritalStatus string `json:"marital_status"`
	Profession    string `json:"profession"`
	Address       string `json:"address"`
	City          string `json:"city"`
	State         string `json:"state"`
	NIT           string `json:"nit"`

	// Administrative request (INSS)
	RequestDate   string `json:"request_date"` // DER
	BenefitType   string `json:"benefit_type"`
	BenefitNumber string `json:"benefit_number"` // NB
	DenialReason  string `json:"denial_reason"`

	// Land / rural attributes
	PropertyName         string `json:"property_name"`
	PropertyArea         string `json:"property_area"`
	PropertyMunicipality string `json:"property_municipality"`
	LandOwnership        string `json:"land_ownership"`

	// Case
	Jurisdiction string `json:"jurisdiction"`
	ValueOfClaim string `json:"value_of_claim"`

	// Lists
	RuralPeriods   RuralPeriods   `json:"rural_periods"`
	UrbanPeriods   UrbanPeriods   `json:"urban_periods"`
	SchoolHistory  SchoolHistory  `json:"school_history"`
	ManualBenefits ManualBenefits `json:"manual_benefits"`
	FamilyMembers  FamilyMembers  `json:"family_members"`

	HealthDeclaration HealthDeclaration `json:"health_declaration"`

	ConsolidatedAt time.Time `json:"consolidated_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
