package service

import (
	"fmt"
	"strings"

	"prevdraft-backend/models"
)

// DocumentTypeInitialPetition is the document type quality reports cover
// in this service.
const DocumentTypeInitialPetition = "initial_petition"

// Fields without which drafting cannot produce a filable petition.
var requiredFields = []struct {
	name  string
	value func(*models.CaseRecord) string
}{
	{"author_name", func(r *models.CaseRecord) string { return r.AuthorName }},
	{"cpf", func(r *models.CaseRecord) string { return r.CPF }},
	{"birth_date", func(r *models.CaseRecord) string { return r.BirthDate }},
	{"request_date", func(r *models.CaseRecord) string { return r.RequestDate }},
	{"benefit_type", func(r *models.CaseRecord) string { return r.BenefitType }},
}

// ComputeQualityReport derives a fresh quality report from the consolidated
// record. Always a full recomputation, never a patch of the previous report.
func ComputeQualityReport(record *models.CaseRecord) *models.QualityReport {
	report := &models.QualityReport{
		CaseID:        record.CaseID,
		DocumentType:  DocumentTypeInitialPetition,
		MissingFields: models.StringList{},
		Issues:        models.StringList{},
	}

	for _, field := range requiredFields {
		if field.value(record) == "" {
			report.MissingFields = append(report.MissingFields, field.name)
		}
	}
	report.DataComplete = len(report.MissingFields) == 0

	report.JurisdictionOK = record.Jurisdiction != ""
	if !report.JurisdictionOK {
		report.Issues = append(report.Issues, "jurisdiction not identified")
	}

	report.AddressingOK = report.JurisdictionOK && record.City != ""
	if record.City == "" {
		report.Issues = append(report.Issues, "author city unknown, addressing cannot be verified")
	}

	report.ValueOfClaimValidated = record.ValueOfClaim != ""
	if !report.ValueOfClaimValidated {
		report.Issues = append(report.Issues, "value of claim not set")
	}

	if len(record.RuralPeriods) == 0 {
		report.Issues = append(report.Issues, "no rural periods extracted")
	}

	switch {
	case report.DataComplete && len(report.Issues) == 0:
		report.Status = models.QualityApproved
	case report.DataComplete:
		report.Status = models.QualityApprovedWithWarnings
	default:
		report.Status = models.QualityNeedsReview
	}

	return report
}

// AutoFixRecord applies the deterministic local normalizations that need no
// provider call. Returns a description of each fix applied.
func AutoFixRecord(record *models.CaseRecord) []string {
	var fixes []string

	if normalized := normalizeCPF(record.CPF); normalized != record.CPF {
		fixes = append(fixes, fmt.Sprintf("normalized CPF %q to %q", record.CPF, normalized))
		record.CPF = normalized
	}
	if normalized := normalizeDigits(record.NIT); normalized != record.NIT {
		fixes = append(fixes, fmt.Sprintf("normalized NIT %q to %q", record.NIT, normalized))
		record.NIT = normalized
	}
	if normalized := normalizeDigits(record.BenefitNumber); normalized != record.BenefitNumber {
		fixes = append(fixes, fmt.Sprintf("normalized benefit number %q to %q", record.BenefitNumber, normalized))
		record.BenefitNumber = normalized
	}

	// A rural pension claim without explicit jurisdiction defaults to the
	// author's home comarca.
	if record.Jurisdiction == "" && record.City != "" {
		record.Jurisdiction = "Comarca de " + record.City
		fixes = append(fixes, "defaulted jurisdiction to "+record.Jurisdiction)
	}

	return fixes
}

// normalizeCPF strips formatting, keeping digits only (11 expected)
func normalizeCPF(cpf string) string {
	digits := normalizeDigits(cpf)
	if len(digits) != 11 {
		return cpf
	}
	return digits
}

func normalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return s
	}
	return b.String()
}
