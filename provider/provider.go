// Package provider abstracts the external generative service that drafts,
// critiques and adapts petition text. The pipeline never assumes a call
// succeeds: every call site classifies rate-limit, quota, timeout and
// generic provider failures separately.
package provider

import (
	"context"
	"errors"
	"fmt"

	"prevdraft-backend/models"
)

var (
	// ErrRateLimited indicates the provider rejected the call with a
	// rate-limit condition (HTTP 429 equivalent).
	ErrRateLimited = errors.New("provider rate limited")

	// ErrQuotaExhausted indicates the billing quota is spent (402 equivalent).
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrTimeout indicates the call did not complete within its deadline
	// (408 equivalent). Timeouts are not retried automatically.
	ErrTimeout = errors.New("provider call timed out")

	// ErrEmptyResponse indicates the provider returned no usable content.
	// A partial or malformed response must never be persisted as a draft.
	ErrEmptyResponse = errors.New("provider returned empty content")
)

// ProviderError wraps any other failure from the generative service
// (5xx equivalent).
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failure: %s (status: %d)", e.Message, e.StatusCode)
}

// CritiqueResult is the output of a critique pass over a draft.
type CritiqueResult struct {
	Findings   []models.Finding `json:"findings"`
	Strengths  []string         `json:"strengths"`
	Weaknesses []string         `json:"weaknesses"`
	RiskScore  int              `json:"risk_score"` // 0-100 rejection likelihood
}

// AdaptationResult is the output of a regional or appellate adaptation pass.
type AdaptationResult struct {
	AdaptedDraft       string   `json:"adapted_draft"`
	Suggestions        []string `json:"suggestions"`
	AppealRiskEstimate int      `json:"appeal_risk_estimate,omitempty"`
}

// CorrectionProvider is the contract with the external generation service.
// All methods are synchronous wrappers over network calls and carry the
// caller's context deadline.
type CorrectionProvider interface {
	// Generate produces a full petition draft from the consolidated case
	// record.
	Generate(ctx context.Context, record *models.CaseRecord) (string, error)

	// Critique analyzes a draft and returns findings with a risk score.
	Critique(ctx context.Context, draft string, record *models.CaseRecord) (*CritiqueResult, error)

	// ApplyCorrections rewrites the draft resolving the given findings.
	ApplyCorrections(ctx context.Context, draft string, findings []models.Finding) (string, error)

	// AdaptRegional adjusts the draft to the conventions of a jurisdiction.
	AdaptRegional(ctx context.Context, draft string, jurisdiction string) (*AdaptationResult, error)

	// AdaptAppellate strengthens the draft against likely appeal grounds.
	AdaptAppellate(ctx context.Context, draft string, record *models.CaseRecord) (*AdaptationResult, error)
}

// IsProviderFailure reports whether err belongs to the provider error
// taxonomy, as opposed to local validation or persistence errors.
func IsProviderFailure(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Classify maps an error from the taxonomy to a stable user-facing code.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "PROVIDER_RATE_LIMITED"
	case errors.Is(err, ErrQuotaExhausted):
		return "PROVIDER_QUOTA_EXHAUSTED"
	case errors.Is(err, ErrTimeout):
		return "PROVIDER_TIMEOUT"
	case IsProviderFailure(err):
		return "PROVIDER_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}
