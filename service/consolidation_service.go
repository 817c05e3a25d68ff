package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"prevdraft-backend/models"

	"github.com/google/uuid"
)

// ExtractionStore is the persistence surface the consolidation service needs
type ExtractionStore interface {
	Create(ctx context.Context, extraction *models.ExtractionRecord) error
	ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]*models.ExtractionRecord, error)
}

// CaseRecordStore persists consolidated case records
type CaseRecordStore interface {
	Upsert(ctx context.Context, record *models.CaseRecord) error
	GetByCaseID(ctx context.Context, caseID uuid.UUID) (*models.CaseRecord, error)
}

// ConsolidationService merges document extractions into the canonical case
// record. Consolidation rebuilds the record from scratch on every run; it
// never patches incrementally.
type ConsolidationService struct {
	extractionStore ExtractionStore
	caseRecordStore CaseRecordStore
	batch           *BatchProcessor
}

// ConsolidationServiceOption is a functional option for ConsolidationService
type ConsolidationServiceOption func(*ConsolidationService)

// ConsolidationWithExtractionStore sets the extraction store
func ConsolidationWithExtractionStore(store ExtractionStore) ConsolidationServiceOption {
	return func(s *ConsolidationService) {
		s.extractionStore = store
	}
}

// ConsolidationWithCaseRecordStore sets the case record store
func ConsolidationWithCaseRecordStore(store CaseRecordStore) ConsolidationServiceOption {
	return func(s *ConsolidationService) {
		s.caseRecordStore = store
	}
}

// ConsolidationWithBatchProcessor sets the bulk persistence processor
func ConsolidationWithBatchProcessor(batch *BatchProcessor) ConsolidationServiceOption {
	return func(s *ConsolidationService) {
		s.batch = batch
	}
}

// NewConsolidationService creates a new consolidation service
func NewConsolidationService(opts ...ConsolidationServiceOption) *ConsolidationService {
	s := &ConsolidationService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.batch == nil {
		s.batch = NewBatchProcessor()
	}
	return s
}

var (
	ErrNoExtractions   = errors.New("no extractions available for case")
	ErrCaseNotFound    = errors.New("case record not found")
	ErrPersistenceFailed = errors.New("failed to persist extraction batch")
)

// scalarField binds one canonical case record field to the alias keys the
// various extraction producers have used for it over time. The alias order
// is the documented precedence; resolution never depends on map iteration
// order. The duplicated names are a producer quirk, not something to clean
// up on this side.
type scalarField struct {
	name    string
	aliases []string
	ptr     func(*models.CaseRecord) *string
}

var scalarFields = []scalarField{
	{"author_name", []string{"nome_autor", "autor_nome", "nome_completo", "nome"},
		func(r *models.CaseRecord) *string { return &r.AuthorName }},
	{"cpf", []string{"cpf", "cpf_autor", "numero_cpf"},
		func(r *models.CaseRecord) *string { return &r.CPF }},
	{"rg", []string{"rg", "rg_autor", "numero_rg", "identidade"},
		func(r *models.CaseRecord) *string { return &r.RG }},
	{"birth_date", []string{"data_nascimento", "nascimento", "dt_nascimento"},
		func(r *models.CaseRecord) *string { return &r.BirthDate }},
	{"mother_name", []string{"nome_mae", "mae", "filiacao_mae"},
		func(r *models.CaseRecord) *string { return &r.MotherName }},
	{"father_name", []string{"nome_pai", "pai", "filiacao_pai"},
		func(r *models.CaseRecord) *string { return &r.FatherName }},
	{"marital_status", []string{"estado_civil"},
		func(r *models.CaseRecord) *string { return &r.MaritalStatus }},
	{"profession", []string{"profissao", "ocupacao", "atividade_principal"},
		func(r *models.CaseRecord) *string { return &r.Profession }},
	{"address", []string{"endereco", "endereco_completo", "logradouro"},
		func(r *models.CaseRecord) *string { return &r.Address }},
	{"city", []string{"cidade", "municipio", "municipio_residencia"},
		func(r *models.CaseRecord) *string { return &r.City }},
	{"state", []string{"estado", "uf"},
		func(r *models.CaseRecord) *string { return &r.State }},
	{"nit", []string{"nit", "pis", "pis_pasep"},
		func(r *models.CaseRecord) *string { return &r.NIT }},
	{"request_date", []string{"der", "data_der", "data_requerimento", "data_entrada_requerimento"},
		func(r *models.CaseRecord) *string { return &r.RequestDate }},
	{"benefit_type", []string{"especie_beneficio", "tipo_beneficio", "beneficio_requerido"},
		func(r *models.CaseRecord) *string { return &r.BenefitType }},
	{"benefit_number", []string{"nb", "numero_beneficio"},
		func(r *models.CaseRecord) *string { return &r.BenefitNumber }},
	{"denial_reason", []string{"motivo_indeferimento", "razao_indeferimento"},
		func(r *models.CaseRecord) *string { return &r.DenialReason }},
	{"property_name", []string{"nome_propriedade", "sitio", "fazenda", "imovel_rural"},
		func(r *models.CaseRecord) *string { return &r.PropertyName }},
	{"property_area", []string{"area_imovel", "area_propriedade", "area_hectares"},
		func(r *models.CaseRecord) *string { return &r.PropertyArea }},
	{"property_municipality", []string{"municipio_imovel", "municipio_propriedade"},
		func(r *models.CaseRecord) *string { return &r.PropertyMunicipality }},
	{"land_ownership", []string{"condicao_imovel", "posse_terra", "titularidade"},
		func(r *models.CaseRecord) *string { return &r.LandOwnership }},
	{"jurisdiction", []string{"comarca", "vara", "juizo", "foro"},
		func(r *models.CaseRecord) *string { return &r.Jurisdiction }},
	{"value_of_claim", []string{"valor_causa", "valor_da_causa"},
		func(r *models.CaseRecord) *string { return &r.ValueOfClaim }},
}

// List field source keys, also in precedence order.
var (
	ruralPeriodKeys   = []string{"periodos_rurais", "atividade_rural", "periodos_atividade_rural"}
	urbanPeriodKeys   = []string{"periodos_urbanos", "vinculos_urbanos", "empregos_urbanos"}
	schoolHistoryKeys = []string{"historico_escolar", "escolas", "registros_escolares"}
	benefitKeys       = []string{"beneficios", "beneficios_anteriores", "beneficios_manuais"}
	familyMemberKeys  = []string{"grupo_familiar", "familiares", "membros_familia"}
	healthKeys        = []string{"declaracao_saude", "saude"}
)

// Consolidate merges extraction records into one canonical case record.
// Pure and total: input need not be pre-sorted, missing data stays empty,
// malformed entries are skipped with a logged warning. Identical input
// always yields identical output.
func Consolidate(caseID uuid.UUID, extractions []*models.ExtractionRecord) *models.CaseRecord {
	sorted := make([]*models.ExtractionRecord, len(extractions))
	copy(sorted, extractions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExtractedAt.Before(sorted[j].ExtractedAt)
	})

	record := &models.CaseRecord{
		CaseID:            caseID,
		RuralPeriods:      models.RuralPeriods{},
		UrbanPeriods:      models.UrbanPeriods{},
		SchoolHistory:     models.SchoolHistory{},
		ManualBenefits:    models.ManualBenefits{},
		FamilyMembers:     models.FamilyMembers{},
		HealthDeclaration: models.HealthDeclaration{},
		ConsolidatedAt:    time.Now(),
	}

	var (
		rawRural   []models.RuralPeriod
		rawUrban   []models.UrbanPeriod
		rawSchool  []models.SchoolEntry
		rawBenefit []models.ManualBenefit
		rawFamily  []models.FamilyMember
	)

	for _, extraction := range sorted {
		// Scalars: earliest extraction wins; later non-empty values for an
		// already-set field are discarded (conflicts logged, never raised).
		for _, field := range scalarFields {
			value := resolveAlias(extraction.Entities, field.aliases)
			if value == "" {
				continue
			}
			ptr := field.ptr(record)
			if *ptr == "" {
				*ptr = value
			} else if *ptr != value {
				log.Printf("Warning: consolidation conflict on %s for case %s: keeping %q, discarding %q (extracted %s)",
					field.name, caseID, *ptr, value, extraction.ExtractedAt.Format(time.RFC3339))
			}
		}

		// Lists: accumulate raw candidates from entities and auto-filled
		// fields without deduplicating during this pass. Rural periods have
		// a third, dedicated source on the extraction itself.
		rawRural = append(rawRural, extraction.RuralPeriods...)
		for _, source := range []models.EntityMap{extraction.Entities, extraction.AutoFilledFields} {
			rawRural = append(rawRural, collectRuralPeriods(source)...)
			rawUrban = append(rawUrban, collectUrbanPeriods(source)...)
			rawSchool = append(rawSchool, collectSchoolEntries(source)...)
			rawBenefit = append(rawBenefit, collectBenefits(source)...)
			rawFamily = append(rawFamily, collectFamilyMembers(source)...)
		}

		// Health declaration: shallow last-write-wins, a deliberate
		// departure from the scalar rule because later documents refine it.
		for _, key := range healthKeys {
			if m, ok := extraction.Entities[key].(map[string]interface{}); ok {
				for k, v := range m {
					record.HealthDeclaration[k] = v
				}
			}
			if m, ok := extraction.AutoFilledFields[key].(map[string]interface{}); ok {
				for k, v := range m {
					record.HealthDeclaration[k] = v
				}
			}
		}
	}

	record.RuralPeriods = dedupRuralPeriods(rawRural)
	record.UrbanPeriods = dedupUrbanPeriods(rawUrban)
	record.SchoolHistory = dedupSchoolEntries(rawSchool)
	record.ManualBenefits = dedupBenefits(rawBenefit)
	record.FamilyMembers = dedupFamilyMembers(rawFamily)

	sortRuralPeriods(record.RuralPeriods)
	sortUrbanPeriods(record.UrbanPeriods)

	return record
}

// resolveAlias returns the first non-empty value among the alias keys, in
// declared precedence order.
func resolveAlias(entities models.EntityMap, aliases []string) string {
	for _, alias := range aliases {
		if value := asString(entities[alias]); value != "" {
			return value
		}
	}
	return ""
}

// asString coerces the loosely-typed JSON values producers emit
func asString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	case int:
		return fmt.Sprintf("%d", value)
	default:
		return ""
	}
}

// itemMaps extracts the list payload under the first present alias key.
// Malformed entries are skipped with a warning, never raised as errors.
func itemMaps(source models.EntityMap, keys []string) []map[string]interface{} {
	var items []map[string]interface{}
	for _, key := range keys {
		raw, ok := source[key]
		if !ok || raw == nil {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			log.Printf("Warning: skipping malformed list field %q (not a list)", key)
			continue
		}
		for _, entry := range list {
			m, ok := entry.(map[string]interface{})
			if !ok {
				log.Printf("Warning: skipping malformed entry in %q", key)
				continue
			}
			items = append(items, m)
		}
	}
	return items
}

func collectRuralPeriods(source models.EntityMap) []models.RuralPeriod {
	var periods []models.RuralPeriod
	for _, m := range itemMaps(source, ruralPeriodKeys) {
		periods = append(periods, models.RuralPeriod{
			StartDate: firstString(m, "start_date", "inicio", "data_inicio"),
			EndDate:   firstString(m, "end_date", "fim", "data_fim", "termino"),
			Property:  firstString(m, "property", "propriedade", "imovel"),
			Activity:  firstString(m, "activity", "atividade"),
			Regime:    firstString(m, "regime"),
			Notes:     firstString(m, "notes", "observacoes", "obs"),
		})
	}
	return periods
}

func collectUrbanPeriods(source models.EntityMap) []models.UrbanPeriod {
	var periods []models.UrbanPeriod
	for _, m := range itemMaps(source, urbanPeriodKeys) {
		periods = append(periods, models.UrbanPeriod{
			StartDate: firstString(m, "start_date", "inicio", "data_inicio"),
			EndDate:   firstString(m, "end_date", "fim", "data_fim", "termino"),
			Employer:  firstString(m, "employer", "empregador", "empresa"),
			Role:      firstString(m, "role", "funcao", "cargo"),
			Notes:     firstString(m, "notes", "observacoes", "obs"),
		})
	}
	return periods
}

func collectSchoolEntries(source models.EntityMap) []models.SchoolEntry {
	var entries []models.SchoolEntry
	for _, m := range itemMaps(source, schoolHistoryKeys) {
		entries = append(entries, models.SchoolEntry{
			Institution:  firstString(m, "institution", "instituicao", "escola"),
			StartPeriod:  firstString(m, "start_period", "inicio", "ano_inicio"),
			EndPeriod:    firstString(m, "end_period", "fim", "ano_fim"),
			Municipality: firstString(m, "municipality", "municipio"),
			IsRural:      asBool(m["is_rural"]) || asBool(m["escola_rural"]),
		})
	}
	return entries
}

func collectBenefits(source models.EntityMap) []models.ManualBenefit {
	var benefits []models.ManualBenefit
	for _, m := range itemMaps(source, benefitKeys) {
		benefits = append(benefits, models.ManualBenefit{
			BenefitNumber: firstString(m, "benefit_number", "nb", "numero_beneficio"),
			BenefitType:   firstString(m, "benefit_type", "especie", "tipo"),
			Status:        firstString(m, "status", "situacao"),
			StartDate:     firstString(m, "start_date", "inicio", "dib"),
			EndDate:       firstString(m, "end_date", "fim", "cessacao"),
		})
	}
	return benefits
}

func collectFamilyMembers(source models.EntityMap) []models.FamilyMember {
	var members []models.FamilyMember
	for _, m := range itemMaps(source, familyMemberKeys) {
		members = append(members, models.FamilyMember{
			Name:         firstString(m, "name", "nome"),
			CPF:          firstString(m, "cpf"),
			Relationship: firstString(m, "relationship", "parentesco", "vinculo"),
			BirthDate:    firstString(m, "birth_date", "data_nascimento", "nascimento"),
			Occupation:   firstString(m, "occupation", "ocupacao", "profissao"),
		})
	}
	return members
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value := asString(m[key]); value != "" {
			return value
		}
	}
	return ""
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// Dedup passes: each list keeps the first occurrence of its composite key
// in full, in insertion order. Rural and urban periods are additionally
// sorted by start date afterwards.

func dedupRuralPeriods(raw []models.RuralPeriod) models.RuralPeriods {
	seen := make(map[string]bool)
	result := models.RuralPeriods{}
	for _, p := range raw {
		key := p.StartDate + "|" + p.EndDate
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, p)
	}
	return result
}

func dedupUrbanPeriods(raw []models.UrbanPeriod) models.UrbanPeriods {
	seen := make(map[string]bool)
	result := models.UrbanPeriods{}
	for _, p := range raw {
		key := p.StartDate + "|" + p.EndDate
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, p)
	}
	return result
}

func dedupSchoolEntries(raw []models.SchoolEntry) models.SchoolHistory {
	seen := make(map[string]bool)
	result := models.SchoolHistory{}
	for _, e := range raw {
		key := e.Institution + "|" + e.StartPeriod
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, e)
	}
	return result
}

func dedupBenefits(raw []models.ManualBenefit) models.ManualBenefits {
	seen := make(map[string]bool)
	result := models.ManualBenefits{}
	for _, b := range raw {
		key := b.BenefitNumber
		if key == "" {
			key = "type:" + b.BenefitType
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, b)
	}
	return result
}

func dedupFamilyMembers(raw []models.FamilyMember) models.FamilyMembers {
	seen := make(map[string]bool)
	result := models.FamilyMembers{}
	for _, f := range raw {
		key := f.CPF
		if key == "" {
			key = "name:" + f.Name
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, f)
	}
	return result
}

// parsePeriodDate accepts the date formats seen across producers. A missing
// or unparseable date yields the zero time, which sorts first rather than
// raising an error.
func parsePeriodDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "01/2006", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	log.Printf("Warning: unparseable period date %q, sorting as earliest", s)
	return time.Time{}
}

func sortRuralPeriods(periods models.RuralPeriods) {
	sort.SliceStable(periods, func(i, j int) bool {
		return parsePeriodDate(periods[i].StartDate).Before(parsePeriodDate(periods[j].StartDate))
	})
}

func sortUrbanPeriods(periods models.UrbanPeriods) {
	sort.SliceStable(periods, func(i, j int) bool {
		return parsePeriodDate(periods[i].StartDate).Before(parsePeriodDate(periods[j].StartDate))
	})
}

// ExtractionInput is one extraction as submitted by the document analysis
// layer.
type ExtractionInput struct {
	DocumentID       uuid.UUID
	Entities         models.EntityMap
	AutoFilledFields models.EntityMap
	RuralPeriods     models.RuralPeriods
	ExtractedAt      time.Time
}

// SubmitExtractionsRequest represents a request to ingest extractions
type SubmitExtractionsRequest struct {
	CaseID      uuid.UUID
	Extractions []ExtractionInput
}

// SubmitExtractionsResult represents the result of ingesting extractions
type SubmitExtractionsResult struct {
	Record *models.CaseRecord
}

// SubmitExtractions persists the submitted extractions, then re-reads every
// extraction on file for the case and rebuilds the consolidated record.
// Persistence runs through the bounded-retry batch processor: items that
// made it in stay in even when a sibling item exhausts its retries.
func (s *ConsolidationService) SubmitExtractions(ctx context.Context, req SubmitExtractionsRequest) (*SubmitExtractionsResult, error) {
	if s.extractionStore == nil {
		return nil, errors.New("extraction store not set")
	}
	if s.caseRecordStore == nil {
		return nil, errors.New("case record store not set")
	}

	items := make([]BatchItem, 0, len(req.Extractions))
	for _, input := range req.Extractions {
		input := input
		items = append(items, BatchItem{
			Name: input.DocumentID.String(),
			Work: func(ctx context.Context) error {
				return s.extractionStore.Create(ctx, &models.ExtractionRecord{
					CaseID:           req.CaseID,
					DocumentID:       input.DocumentID,
					Entities:         input.Entities,
					AutoFilledFields: input.AutoFilledFields,
					RuralPeriods:     input.RuralPeriods,
					ExtractedAt:      input.ExtractedAt,
				})
			},
		})
	}

	batchErr := s.batch.Process(ctx, items)
	if batchErr != nil {
		log.Printf("Warning: extraction batch for case %s had failures: %v", req.CaseID, batchErr)
	}

	extractions, err := s.extractionStore.ListByCaseID(ctx, req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	if len(extractions) == 0 {
		if batchErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, batchErr)
		}
		return nil, ErrNoExtractions
	}

	record := Consolidate(req.CaseID, extractions)
	if err := s.caseRecordStore.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store case record: %w", err)
	}

	if batchErr != nil {
		return &SubmitExtractionsResult{Record: record}, batchErr
	}
	return &SubmitExtractionsResult{Record: record}, nil
}

// GetCaseRecordRequest represents a request to read a consolidated record
type GetCaseRecordRequest struct {
	CaseID uuid.UUID
}

// GetCaseRecordResult represents the result of reading a record
type GetCaseRecordResult struct {
	Record *models.CaseRecord
}

// GetCaseRecord retrieves the consolidated record for a case
func (s *ConsolidationService) GetCaseRecord(ctx context.Context, req GetCaseRecordRequest) (*GetCaseRecordResult, error) {
	if s.caseRecordStore == nil {
		return nil, errors.New("case record store not set")
	}

	record, err := s.caseRecordStore.GetByCaseID(ctx, req.CaseID)
	if err != nil {
		return nil, ErrCaseNotFound
	}

	return &GetCaseRecordResult{Record: record}, nil
}
