package model

import "time"

// LeadType is the closed set of lead classifications. It routes which
// scoring modules run; it is derived per run and never stored on its own.
type LeadType string

const (
	LeadTypeInbound LeadType = "inbound"
	LeadTypeProduct LeadType = "product"
	LeadTypeEvent   LeadType = "event"
	LeadTypeOther   LeadType = "other"
)

// RunSource identifies what triggered a scoring run. Webhook-triggered runs
// are subject to deduplication; manual runs are not.
type RunSource string

const (
	SourceWebhook RunSource = "webhook"
	SourceManual  RunSource = "manual"
)

// FormSubmission is a single form submission recorded on the contact.
type FormSubmission struct {
	FormID    string            `json:"form_id"`
	Title     string            `json:"title"`
	Timestamp int64             `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

// ResolvedLead aggregates the Lead with its associated Contact and Company.
// Contact and Company data may be absent when the association lookup failed;
// those failures are carried in Errors rather than failing resolution.
type ResolvedLead struct {
	LeadID            string            `json:"lead_id"`
	ContactID         string            `json:"contact_id,omitempty"`
	LeadProperties    map[string]string `json:"lead_properties"`
	ContactProperties map[string]string `json:"contact_properties,omitempty"`
	CompanyProperties map[string]string `json:"company_properties,omitempty"`
	FormSubmissions   []FormSubmission  `json:"form_submissions,omitempty"`

	// Errors records degraded association lookups (contact, forms, company).
	Errors []string `json:"errors,omitempty"`
}

// Properties returns the merged property view. Contact properties fill gaps;
// a non-empty Lead property always wins over the Contact value.
func (r *ResolvedLead) Properties() map[string]string {
	merged := make(map[string]string, len(r.ContactProperties)+len(r.LeadProperties))
	for k, v := range r.ContactProperties {
		merged[k] = v
	}
	for k, v := range r.LeadProperties {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

// Property returns the merged value for a single field, Lead-first.
func (r *ResolvedLead) Property(key string) string {
	if v := r.LeadProperties[key]; v != "" {
		return v
	}
	return r.ContactProperties[key]
}

// ModuleResult is the outcome of one scoring module: either a bounded score
// with a rationale, or a failure description. Exactly one of the two holds.
type ModuleResult struct {
	Score     *float64 `json:"score,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Failed reports whether the module produced an error instead of a score.
func (m ModuleResult) Failed() bool {
	return m.Error != ""
}

// Succeeded creates a successful ModuleResult with the score clamped to [0, 100].
func Succeeded(score float64, rationale string) ModuleResult {
	s := ClampScore(score)
	return ModuleResult{Score: &s, Rationale: rationale}
}

// Failed creates a failure ModuleResult.
func Failed(err error) ModuleResult {
	return ModuleResult{Error: err.Error()}
}

// ClampScore bounds a score to the [0, 100] range.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// RawInputs snapshots what the pipeline saw, for auditability. Errors holds
// both resolution degradations and module failure descriptions.
type RawInputs struct {
	LeadProperties    map[string]string `json:"lead_properties"`
	ContactID         string            `json:"contact_id,omitempty"`
	MergedProperties  map[string]string `json:"merged_properties"`
	CompanyProperties map[string]string `json:"company_properties,omitempty"`
	FormCount         int               `json:"form_count"`
	Errors            []string          `json:"errors,omitempty"`
}

// ScoredRecord is the persisted outcome of a pipeline run. At most one live
// record exists per lead; re-scoring replaces it.
type ScoredRecord struct {
	LeadID         string                  `json:"lead_id"`
	LeadType       LeadType                `json:"lead_type"`
	CompositeScore *float64                `json:"composite_score"` // nil when every module failed
	Tier           string                  `json:"tier,omitempty"`
	ModuleResults  map[string]ModuleResult `json:"module_results"`
	WeightsUsed    map[string]float64      `json:"weights_used"`
	RawInputs      RawInputs               `json:"raw_inputs"`
	ScoredAt       time.Time               `json:"scored_at"`
}
