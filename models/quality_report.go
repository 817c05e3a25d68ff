package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QualityStatus summarizes whether a case is fit for drafting
type QualityStatus string

const (
	QualityApproved             QualityStatus = "approved"
	QualityApprovedWithWarnings QualityStatus = "approved_with_warnings"
	QualityNeedsReview          QualityStatus = "needs_review"
)

// StringList is a JSONB-backed list of strings
type StringList []string

// Value implements driver.Valuer for JSONB
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(StringList{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB
func (l *StringList) Scan(value interface{}) error {
	return scanJSONList(value, l, func() { *l = make(StringList, 0) })
}

// QualityReport is the current quality assessment for one case and document
// type. It is recomputed wholesale whenever corrections are applied, never
// incrementally patched.
type QualityReport struct {
	CaseID                uuid.UUID     `json:"case_id"`
	DocumentType          string        `json:"document_type"`
	Status                QualityStatus `json:"status"`
	AddressingOK          bool          `json:"addressing_ok"`
	DataComplete          bool          `json:"data_complete"`
	ValueOfClaimValidated bool          `json:"value_of_claim_validated"`
	JurisdictionOK        bool          `json:"jurisdiction_ok"`
	MissingFields         StringList    `json:"missing_fields"`
	Issues                StringList    `json:"issues"`
	ComputedAt            time.Time     `json:"computed_at"`
}
