package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VersionFlags are the stage flags accumulated by a draft version.
// Flags are monotonic: once true they are carried into successor versions.
// Only a full regeneration resets all of them to false.
type VersionFlags struct {
	CorrectedByJudge           bool `json:"corrected_by_judge"`
	RegionalAdaptationsApplied bool `json:"regional_adaptations_applied"`
	AppellateAdaptationsApplied bool `json:"appellate_adaptations_applied"`
	FinalVersion               bool `json:"final_version"`
}

// Value implements driver.Valuer for JSONB
func (f VersionFlags) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB
func (f *VersionFlags) Scan(value interface{}) error {
	if value == nil {
		*f = VersionFlags{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*f = VersionFlags{}
		return nil
	}

	if len(bytes) == 0 {
		*f = VersionFlags{}
		return nil
	}

	return json.Unmarshal(bytes, f)
}

// Merge carries forward flags already set on a predecessor version.
func (f VersionFlags) Merge(prev VersionFlags) VersionFlags {
	return VersionFlags{
		CorrectedByJudge:            f.CorrectedByJudge || prev.CorrectedByJudge,
		RegionalAdaptationsApplied:  f.RegionalAdaptationsApplied || prev.RegionalAdaptationsApplied,
		AppellateAdaptationsApplied: f.AppellateAdaptationsApplied || prev.AppellateAdaptationsApplied,
		FinalVersion:                f.FinalVersion || prev.FinalVersion,
	}
}

// DraftVersion is one immutable snapshot of generated petition text.
// Versions are append-only; "current" is the row with the maximum
// GeneratedAt for the case.
type DraftVersion struct {
	ID          uuid.UUID    `json:"id"`
	CaseID      uuid.UUID    `json:"case_id"`
	Content     string       `json:"content"`
	ContentHash string       `json:"content_hash"`
	Flags       VersionFlags `json:"flags"`
	GeneratedAt time.Time    `json:"generated_at"`
}
