package models

import "github.com/google/uuid"

// FindingSeverity classifies how likely a finding is to cause rejection
type FindingSeverity string

const (
	SeverityLow    FindingSeverity = "low"
	SeverityMedium FindingSeverity = "medium"
	SeverityHigh   FindingSeverity = "high"
)

// RiskDelta returns how many risk points resolving a finding of this
// severity removes from the case risk score.
func (s FindingSeverity) RiskDelta() int {
	switch s {
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	default:
		return 5
	}
}

// Finding is a specific weakness the critique stage identified in a draft.
// Findings live in the pipeline run working state; they are not persisted
// as their own entity beyond the correction history log.
type Finding struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Severity    FindingSeverity `json:"severity"`
	Location    string          `json:"location,omitempty"`
	Suggestion  string          `json:"suggestion,omitempty"`
}

// TotalRiskDelta sums the risk deltas of a finding set. Batch application
// decrements the risk score by this accumulated total.
func TotalRiskDelta(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Severity.RiskDelta()
	}
	return total
}
