package service

import (
	"encoding/hex"
	"strings"
	"time"

	"prevdraft-backend/models"

	"golang.org/x/crypto/blake2b"
)

// Markers left behind when generation skipped a datum. Any of these in a
// draft means the version is invalid regardless of timestamps.
var placeholderMarkers = []string{
	"{{",
	"[PREENCHER]",
	"[COMPLETAR]",
	"______",
}

// Literals observed in production drafts when the generator fell back to
// template sample data. Kept as an explicit denylist.
var knownBadLiterals = []string{
	"João da Silva Sobrinho",
	"Comarca de Exemplo",
	"R$ 0,00",
}

// StalenessDetector decides whether a cached stage result still reflects
// the upstream state it was derived from. Stale results are never served
// as fresh; they trigger re-execution of the owning stage.
type StalenessDetector struct{}

// NewStalenessDetector creates a staleness detector
func NewStalenessDetector() *StalenessDetector {
	return &StalenessDetector{}
}

// IsStale reports whether a stage's recorded completion no longer matches
// the current upstream state: a newer draft version exists than the one the
// stage analyzed, or the case record changed after the stage ran.
func (d *StalenessDetector) IsStale(stage *models.StageState, latest *models.DraftVersion, caseUpdatedAt time.Time) bool {
	if stage == nil || stage.Status != models.StageCompleted {
		return true
	}
	if stage.AnalyzedAt == nil {
		return true
	}

	if latest != nil {
		if stage.AnalyzedVersionID == nil || *stage.AnalyzedVersionID != latest.ID {
			return true
		}
	}

	return caseUpdatedAt.After(*stage.AnalyzedAt)
}

// ContentInvalid is the integrity check layered on top of timestamp
// staleness: unresolved placeholders or known-bad literals force
// regeneration even when timestamps say the version is current.
func (d *StalenessDetector) ContentInvalid(content string) (bool, string) {
	for _, marker := range placeholderMarkers {
		if strings.Contains(content, marker) {
			return true, "unresolved placeholder: " + marker
		}
	}
	for _, literal := range knownBadLiterals {
		if strings.Contains(content, literal) {
			return true, "known-bad literal: " + literal
		}
	}
	return false, ""
}

// ContentHash fingerprints draft content for version comparison
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
