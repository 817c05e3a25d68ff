package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"prevdraft-backend/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

const (
	defaultModel   = "gemini-1.5-pro"
	defaultTimeout = 60 * time.Second
)

// GeminiProvider implements CorrectionProvider against the Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// GeminiOption is a functional option for GeminiProvider
type GeminiOption func(*GeminiProvider)

// GeminiWithModel overrides the model name
func GeminiWithModel(model string) GeminiOption {
	return func(p *GeminiProvider) {
		p.model = model
	}
}

// GeminiWithTimeout overrides the per-call timeout (recommended 15-60s)
func GeminiWithTimeout(timeout time.Duration) GeminiOption {
	return func(p *GeminiProvider) {
		p.timeout = timeout
	}
}

// NewGeminiProvider creates a Gemini-backed correction provider
func NewGeminiProvider(client *genai.Client, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		client:  client,
		model:   defaultModel,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// generate runs one generation call with the provider timeout and maps
// transport errors onto the provider error taxonomy.
func (p *GeminiProvider) generate(ctx context.Context, prompt string, temperature float32, jsonMode bool) (string, error) {
	if p.client == nil {
		return "", errors.New("gemini client not set")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(temperature)
	if jsonMode {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(callCtx, err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				builder.WriteString(string(text))
			}
		}
	}

	result := builder.String()
	if result == "" {
		return "", ErrEmptyResponse
	}

	return result, nil
}

// classifyError maps a Gemini transport error onto the taxonomy the
// pipeline checks explicitly.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, gerr.Message)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrQuotaExhausted, gerr.Message)
		case http.StatusRequestTimeout:
			return fmt.Errorf("%w: %s", ErrTimeout, gerr.Message)
		default:
			return &ProviderError{StatusCode: gerr.Code, Message: gerr.Message}
		}
	}

	// Quota exhaustion surfaces as RESOURCE_EXHAUSTED on the gRPC transport
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
	}

	return &ProviderError{Message: err.Error()}
}

// Generate produces a full petition draft from the consolidated record
func (p *GeminiProvider) Generate(ctx context.Context, record *models.CaseRecord) (string, error) {
	prompt := fmt.Sprintf(`You are an experienced Brazilian social security attorney drafting an initial petition (petição inicial) for a rural retirement benefit claim (aposentadoria por idade rural, Lei 8.213/91, art. 48, §§ 1º-2º, and art. 143).

CASE RECORD:
%s

TASK:
Draft the complete petition with the standard structure:
1. Addressing (endereçamento) to the competent court: %s
2. Author qualification (name, nationality, marital status, profession, CPF, RG, address)
3. Facts (dos fatos): rural labor history in family economy regime, the administrative request (DER) and its denial
4. Legal grounds (do direito): segurado especial status, carência under art. 142/143, the probative value of the documentary evidence listed
5. Requests (dos pedidos): benefit concession from the DER, arrears with interest and monetary correction
6. Value of the claim (valor da causa): %s

OUTPUT REQUIREMENTS:
- Write in formal Brazilian Portuguese legal style
- Plain text, no markdown formatting
- Use ONLY the data present in the CASE RECORD above; never invent dates, numbers or documents
- Where a required datum is genuinely absent, keep the literal placeholder [PREENCHER] so reviewers can spot it
- Cite rural periods exactly as listed, in chronological order

Write the petition now:`,
		caseSummary(record),
		fallback(record.Jurisdiction, "[PREENCHER]"),
		fallback(record.ValueOfClaim, "[PREENCHER]"),
	)

	return p.generate(ctx, prompt, 0.2, false)
}

// critiqueResponse is the JSON shape requested from the model
type critiqueResponse struct {
	Findings []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Location    string `json:"location"`
		Suggestion  string `json:"suggestion"`
	} `json:"findings"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	RiskScore  int      `json:"risk_score"`
}

// Critique analyzes a draft and returns findings with a risk score
func (p *GeminiProvider) Critique(ctx context.Context, draft string, record *models.CaseRecord) (*CritiqueResult, error) {
	prompt := fmt.Sprintf(`You are a senior Brazilian social security judge reviewing a rural retirement petition before filing.

CASE RECORD:
%s

DRAFT PETITION:
%s

TASK:
Critique the draft against the case record. Look for: data that contradicts the record, missing mandatory petition elements, weak evidentiary argumentation for the rural labor periods, carência miscalculation, wrong addressing or jurisdiction, unresolved placeholders.

Respond with JSON only, in this exact shape:
{"findings":[{"type":"","description":"","severity":"low|medium|high","location":"","suggestion":""}],"strengths":[],"weaknesses":[],"risk_score":0}

risk_score is the 0-100 likelihood the petition is rejected as drafted.`,
		caseSummary(record),
		draft,
	)

	raw, err := p.generate(ctx, prompt, 0.1, true)
	if err != nil {
		return nil, err
	}

	var resp critiqueResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		log.Printf("Warning: Failed to decode critique response: %v", err)
		return nil, fmt.Errorf("%w: malformed critique payload", ErrEmptyResponse)
	}

	result := &CritiqueResult{
		Strengths:  resp.Strengths,
		Weaknesses: resp.Weaknesses,
		RiskScore:  clampRisk(resp.RiskScore),
	}
	for _, f := range resp.Findings {
		severity := models.FindingSeverity(strings.ToLower(f.Severity))
		switch severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		default:
			severity = models.SeverityMedium
		}
		result.Findings = append(result.Findings, models.Finding{
			ID:          uuid.New(),
			Type:        f.Type,
			Description: f.Description,
			Severity:    severity,
			Location:    f.Location,
			Suggestion:  f.Suggestion,
		})
	}

	return result, nil
}

// ApplyCorrections rewrites the draft resolving the given findings
func (p *GeminiProvider) ApplyCorrections(ctx context.Context, draft string, findings []models.Finding) (string, error) {
	var list strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&list, "%d. [%s/%s] %s", i+1, f.Type, f.Severity, f.Description)
		if f.Location != "" {
			fmt.Fprintf(&list, " (location: %s)", f.Location)
		}
		if f.Suggestion != "" {
			fmt.Fprintf(&list, "\n   Suggested fix: %s", f.Suggestion)
		}
		list.WriteString("\n")
	}

	prompt := fmt.Sprintf(`You are an experienced Brazilian social security attorney revising a rural retirement petition.

CURRENT DRAFT:
%s

ISSUES TO RESOLVE:
%s

TASK:
Rewrite the petition resolving every listed issue and nothing else. Keep all other text, structure, dates and numbers exactly as they are.

OUTPUT REQUIREMENTS:
- Return the complete corrected petition, plain text, no markdown
- Do not add commentary before or after the petition text

Write the corrected petition now:`,
		draft,
		list.String(),
	)

	return p.generate(ctx, prompt, 0.2, false)
}

// AdaptRegional adjusts the draft to the conventions of a jurisdiction
func (p *GeminiProvider) AdaptRegional(ctx context.Context, draft string, jurisdiction string) (*AdaptationResult, error) {
	prompt := fmt.Sprintf(`You are an experienced Brazilian social security attorney who practices before %s.

CURRENT DRAFT:
%s

TASK:
Adapt the petition to the local conventions of that jurisdiction: addressing formula, local precedent citations (TRF da região, Turma Recursal where applicable) and any regional formatting practices. Change nothing about the facts, dates or numbers.

Respond with JSON only:
{"adapted_draft":"","suggestions":[]}

suggestions lists the adaptations applied, one short sentence each.`,
		jurisdiction,
		draft,
	)

	raw, err := p.generate(ctx, prompt, 0.2, true)
	if err != nil {
		return nil, err
	}

	var resp AdaptationResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		log.Printf("Warning: Failed to decode regional adaptation response: %v", err)
		return nil, fmt.Errorf("%w: malformed adaptation payload", ErrEmptyResponse)
	}
	if resp.AdaptedDraft == "" {
		return nil, ErrEmptyResponse
	}

	return &resp, nil
}

// AdaptAppellate strengthens the draft against likely appeal grounds
func (p *GeminiProvider) AdaptAppellate(ctx context.Context, draft string, record *models.CaseRecord) (*AdaptationResult, error) {
	prompt := fmt.Sprintf(`You are an experienced Brazilian social security attorney anticipating the INSS appeal strategy.

CASE RECORD:
%s

CURRENT DRAFT:
%s

TASK:
Strengthen the petition against the grounds the INSS most commonly raises on appeal for rural retirement claims: insufficient material evidence (início de prova material), gaps in the claimed periods, urban work interrupting the rural regime. Reinforce the argumentation preemptively; change nothing about the facts.

Respond with JSON only:
{"adapted_draft":"","suggestions":[],"appeal_risk_estimate":0}

appeal_risk_estimate is the 0-100 likelihood an INSS appeal succeeds against the adapted petition.`,
		caseSummary(record),
		draft,
	)

	raw, err := p.generate(ctx, prompt, 0.2, true)
	if err != nil {
		return nil, err
	}

	var resp AdaptationResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		log.Printf("Warning: Failed to decode appellate adaptation response: %v", err)
		return nil, fmt.Errorf("%w: malformed adaptation payload", ErrEmptyResponse)
	}
	if resp.AdaptedDraft == "" {
		return nil, ErrEmptyResponse
	}
	resp.AppealRiskEstimate = clampRisk(resp.AppealRiskEstimate)

	return &resp, nil
}

// caseSummary formats the consolidated record as prompt context
func caseSummary(record *models.CaseRecord) string {
	if record == nil {
		return "(no case record)"
	}

	var b strings.Builder
	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	writeField("Author", record.AuthorName)
	writeField("CPF", record.CPF)
	writeField("RG", record.RG)
	writeField("Birth date", record.BirthDate)
	writeField("Mother", record.MotherName)
	writeField("Father", record.FatherName)
	writeField("Marital status", record.MaritalStatus)
	writeField("Profession", record.Profession)
	writeField("Address", record.Address)
	writeField("City/State", strings.TrimSuffix(record.City+"/"+record.State, "/"))
	writeField("NIT", record.NIT)
	writeField("Administrative request (DER)", record.RequestDate)
	writeField("Benefit type", record.BenefitType)
	writeField("Benefit number (NB)", record.BenefitNumber)
	writeField("Denial reason", record.DenialReason)
	writeField("Property", record.PropertyName)
	writeField("Property area", record.PropertyArea)
	writeField("Property municipality", record.PropertyMunicipality)
	writeField("Land ownership", record.LandOwnership)
	writeField("Jurisdiction", record.Jurisdiction)
	writeField("Value of claim", record.ValueOfClaim)

	if len(record.RuralPeriods) > 0 {
		b.WriteString("Rural periods:\n")
		for _, p := range record.RuralPeriods {
			fmt.Fprintf(&b, "  - %s to %s", fallback(p.StartDate, "?"), fallback(p.EndDate, "open"))
			if p.Property != "" {
				fmt.Fprintf(&b, " at %s", p.Property)
			}
			if p.Activity != "" {
				fmt.Fprintf(&b, " (%s)", p.Activity)
			}
			b.WriteString("\n")
		}
	}
	if len(record.UrbanPeriods) > 0 {
		b.WriteString("Urban periods:\n")
		for _, p := range record.UrbanPeriods {
			fmt.Fprintf(&b, "  - %s to %s", fallback(p.StartDate, "?"), fallback(p.EndDate, "open"))
			if p.Employer != "" {
				fmt.Fprintf(&b, " at %s", p.Employer)
			}
			b.WriteString("\n")
		}
	}
	if len(record.SchoolHistory) > 0 {
		b.WriteString("School history:\n")
		for _, s := range record.SchoolHistory {
			fmt.Fprintf(&b, "  - %s, from %s", s.Institution, fallback(s.StartPeriod, "?"))
			if s.Municipality != "" {
				fmt.Fprintf(&b, " (%s)", s.Municipality)
			}
			b.WriteString("\n")
		}
	}
	if len(record.ManualBenefits) > 0 {
		b.WriteString("Prior benefits:\n")
		for _, m := range record.ManualBenefits {
			fmt.Fprintf(&b, "  - %s", m.BenefitType)
			if m.BenefitNumber != "" {
				fmt.Fprintf(&b, " (NB %s)", m.BenefitNumber)
			}
			if m.Status != "" {
				fmt.Fprintf(&b, ", %s", m.Status)
			}
			b.WriteString("\n")
		}
	}
	if len(record.FamilyMembers) > 0 {
		b.WriteString("Family group:\n")
		for _, f := range record.FamilyMembers {
			fmt.Fprintf(&b, "  - %s", f.Name)
			if f.Relationship != "" {
				fmt.Fprintf(&b, " (%s)", f.Relationship)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// stripCodeFence removes a markdown code fence the model sometimes wraps
// JSON responses in despite the MIME type hint.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func fallback(value, alt string) string {
	if value == "" {
		return alt
	}
	return value
}
