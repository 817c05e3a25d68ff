package service

import (
	"testing"

	"prevdraft-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeQualityReportApproved(t *testing.T) {
	record := completeRecord(uuid.New())

	report := ComputeQualityReport(record)

	assert.Equal(t, models.QualityApproved, report.Status)
	assert.True(t, report.DataComplete)
	assert.True(t, report.AddressingOK)
	assert.True(t, report.JurisdictionOK)
	assert.True(t, report.ValueOfClaimValidated)
	assert.Empty(t, report.MissingFields)
	assert.Empty(t, report.Issues)
}

func TestComputeQualityReportMissingRequiredFields(t *testing.T) {
	record := completeRecord(uuid.New())
	record.CPF = ""
	record.RequestDate = ""

	report := ComputeQualityReport(record)

	assert.Equal(t, models.QualityNeedsReview, report.Status)
	assert.False(t, report.DataComplete)
	assert.Contains(t, []string(report.MissingFields), "cpf")
	assert.Contains(t, []string(report.MissingFields), "request_date")
}

func TestComputeQualityReportWarningsOnly(t *testing.T) {
	record := completeRecord(uuid.New())
	record.ValueOfClaim = ""

	report := ComputeQualityReport(record)

	assert.Equal(t, models.QualityApprovedWithWarnings, report.Status)
	assert.True(t, report.DataComplete)
	assert.False(t, report.ValueOfClaimValidated)
	assert.Contains(t, []string(report.Issues), "value of claim not set")
}

func TestComputeQualityReportNoRuralPeriods(t *testing.T) {
	record := completeRecord(uuid.New())
	record.RuralPeriods = models.RuralPeriods{}

	report := ComputeQualityReport(record)

	assert.Equal(t, models.QualityApprovedWithWarnings, report.Status)
	assert.Contains(t, []string(report.Issues), "no rural periods extracted")
}

func TestAutoFixRecordNormalizations(t *testing.T) {
	record := completeRecord(uuid.New())
	record.CPF = "123.456.789-00"
	record.NIT = "1.234.5678.9-0"
	record.BenefitNumber = "nb 123.456.789-0"
	record.Jurisdiction = ""

	fixes := AutoFixRecord(record)

	assert.Equal(t, "12345678900", record.CPF)
	assert.Equal(t, "1234567890", record.NIT)
	assert.Equal(t, "1234567890", record.BenefitNumber)
	assert.Equal(t, "Comarca de Sobral", record.Jurisdiction)
	assert.Len(t, fixes, 4)
}

func TestAutoFixRecordLeavesCleanRecordAlone(t *testing.T) {
	record := completeRecord(uuid.New())
	record.CPF = "12345678900"
	record.NIT = ""
	record.BenefitNumber = ""

	fixes := AutoFixRecord(record)

	assert.Empty(t, fixes)
}

func TestNormalizeCPFRejectsWrongLength(t *testing.T) {
	// A value that does not strip to 11 digits is left untouched rather
	// than mangled.
	assert.Equal(t, "123", normalizeCPF("123"))
	assert.Equal(t, "12345678900", normalizeCPF("123.456.789-00"))
}

func TestAutoFixJurisdictionNeedsCity(t *testing.T) {
	record := completeRecord(uuid.New())
	record.Jurisdiction = ""
	record.City = ""

	fixes := AutoFixRecord(record)

	require.Empty(t, record.Jurisdiction, "no city means no default jurisdiction")
	for _, fix := range fixes {
		assert.NotContains(t, fix, "jurisdiction")
	}
}
