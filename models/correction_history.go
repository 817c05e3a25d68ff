package models

import (
	"time"

	"github.com/google/uuid"
)

// CorrectionEntry is one row of the append-only correction audit log.
// Before/After carry truncated snapshots of the draft text around a change;
// Module names the pipeline stage or manual operation that produced it.
type CorrectionEntry struct {
	ID          uuid.UUID `json:"id"`
	CaseID      uuid.UUID `json:"case_id"`
	Type        string    `json:"type"`
	Module      string    `json:"module"`
	Before      string    `json:"before"`
	After       string    `json:"after"`
	Confidence  float64   `json:"confidence"`
	AutoApplied bool      `json:"auto_applied"`
	CreatedAt   time.Time `json:"created_at"`
}
