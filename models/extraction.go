package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityMap holds the raw key/value pairs produced by a document analysis.
// Keys vary between producers; the consolidation alias table maps them onto
// canonical case record fields.
type EntityMap map[string]interface{}

// Value implements driver.Valuer for JSONB
func (e EntityMap) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal(EntityMap{})
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSONB
func (e *EntityMap) Scan(value interface{}) error {
	if value == nil {
		*e = make(EntityMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*e = make(EntityMap)
		return nil
	}

	if len(bytes) == 0 {
		*e = make(EntityMap)
		return nil
	}

	return json.Unmarshal(bytes, e)
}

// ExtractionRecord is the structured output of analyzing one uploaded
// document. Records are immutable and ordered by ExtractedAt.
type ExtractionRecord struct {
	ID               uuid.UUID    `json:"id"`
	CaseID           uuid.UUID    `json:"case_id"`
	DocumentID       uuid.UUID    `json:"document_id"`
	Entities         EntityMap    `json:"entities"`
	AutoFilledFields EntityMap    `json:"auto_filled_fields"`
	RuralPeriods     RuralPeriods `json:"rural_periods"`
	ExtractedAt      time.Time    `json:"extracted_at"`
	CreatedAt        time.Time    `json:"created_at"`
}
