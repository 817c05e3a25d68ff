package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityRiskDelta(t *testing.T) {
	assert.Equal(t, 15, SeverityHigh.RiskDelta())
	assert.Equal(t, 10, SeverityMedium.RiskDelta())
	assert.Equal(t, 5, SeverityLow.RiskDelta())
	assert.Equal(t, 5, FindingSeverity("unknown").RiskDelta(), "unknown severity falls back to low")
}

func TestTotalRiskDelta(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	}
	assert.Equal(t, 30, TotalRiskDelta(findings))
	assert.Equal(t, 0, TotalRiskDelta(nil))
}
