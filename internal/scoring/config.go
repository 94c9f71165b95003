// Package scoring implements the declarative scoring document, the scoring
// modules, and composite aggregation for the lead pipeline.
package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-scoring/internal/model"
)

// Module names referenced by the weights tables.
const (
	ModuleOpportunitySize = "opportunity_size"
	ModuleMessageAnalysis = "message_analysis"
	ModulePersonRole      = "person_role"
)

var knownModules = map[string]bool{
	ModuleOpportunitySize: true,
	ModuleMessageAnalysis: true,
	ModulePersonRole:      true,
}

// Document is the declarative scoring configuration: weights, tier tables,
// and routing rules. It is reloaded without restart via Provider.
type Document struct {
	// LeadTypes maps explicit CRM lead-type codes to a LeadType.
	LeadTypes map[string]model.LeadType `yaml:"lead_types"`

	// Weights holds, per lead type, the configured module weight table.
	// The weights of each table sum to 1.0 in a valid document.
	Weights map[model.LeadType]map[string]float64 `yaml:"weights"`

	OpportunitySize OpportunityConfig `yaml:"opportunity_size"`
	PersonRole      PersonRoleConfig  `yaml:"person_role"`
	Message         MessageConfig     `yaml:"message"`
	Tiers           []TierThreshold   `yaml:"tiers"`
	Dedup           DedupConfig       `yaml:"dedup"`
}

// SizeTier maps an upper bound to a score; tiers are checked in order.
type SizeTier struct {
	Max   float64 `yaml:"max"`
	Score float64 `yaml:"score"`
}

// OpportunityConfig tunes the opportunity-size module.
type OpportunityConfig struct {
	FormSubmissionBaseScore float64    `yaml:"form_submission_base_score"`
	NeutralScore            float64    `yaml:"neutral_score"`
	AboveTierScore          float64    `yaml:"above_tier_score"`
	EmployeeTiers           []SizeTier `yaml:"employee_tiers"`
	RevenueTiers            []SizeTier `yaml:"revenue_tiers"`

	// BudgetKeywords are matched as substrings against form field names; a
	// numeric value on a matching field boosts the form base score through
	// BudgetBoosts (AboveBudgetBoost beyond the last bound).
	BudgetKeywords   []string   `yaml:"budget_keywords"`
	BudgetBoosts     []SizeTier `yaml:"budget_boosts"`
	AboveBudgetBoost float64    `yaml:"above_budget_boost"`
}

// PersonRoleConfig tunes the person/role module.
type PersonRoleConfig struct {
	// TitleKeywords maps a seniority level to keywords matched against the
	// job title with word boundaries.
	TitleKeywords map[string][]string `yaml:"title_keywords"`

	// SeniorityScores maps a seniority level (including "unknown") to a score.
	SeniorityScores map[string]float64 `yaml:"seniority_scores"`

	// Priority is the order levels are checked in, most senior first.
	Priority []string `yaml:"priority"`
}

// MessageConfig tunes the message-analysis module.
type MessageConfig struct {
	// MinLength is the minimum message length worth analyzing.
	MinLength int `yaml:"min_length"`

	// PromptTemplate must contain the {{MESSAGE}} placeholder.
	PromptTemplate string `yaml:"prompt_template"`
}

// TierThreshold labels composite scores at or above MinScore.
type TierThreshold struct {
	Label    string  `yaml:"label"`
	MinScore float64 `yaml:"min_score"`
}

// DedupConfig controls webhook-event deduplication.
type DedupConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
}

// ConfigError reports a scoring document that failed validation. It is fatal:
// no lead may be scored under the offending document.
type ConfigError struct {
	Reasons []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scoring: invalid document: %s", strings.Join(e.Reasons, "; "))
}

// weightSumTolerance absorbs floating-point noise in YAML weight tables.
const weightSumTolerance = 0.001

// Validate checks the document for internal consistency. Violations are
// returned as a *ConfigError and must abort, never be papered over with
// defaults.
func (d *Document) Validate() error {
	var reasons []string

	if len(d.Weights) == 0 {
		reasons = append(reasons, "weights table is empty")
	}
	for _, lt := range []model.LeadType{model.LeadTypeInbound, model.LeadTypeProduct, model.LeadTypeEvent, model.LeadTypeOther} {
		table, ok := d.Weights[lt]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("weights missing for lead type %q", lt))
			continue
		}
		sum := 0.0
		names := make([]string, 0, len(table))
		for name := range table {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			w := table[name]
			if !knownModules[name] {
				reasons = append(reasons, fmt.Sprintf("%s: unknown module %q", lt, name))
			}
			if w < 0 {
				reasons = append(reasons, fmt.Sprintf("%s: weight for %s must be >= 0", lt, name))
			}
			sum += w
		}
		if math.Abs(sum-1.0) > weightSumTolerance {
			reasons = append(reasons, fmt.Sprintf("%s: weights must sum to 1.0, got %.3f", lt, sum))
		}
	}

	for code, lt := range d.LeadTypes {
		switch lt {
		case model.LeadTypeInbound, model.LeadTypeProduct, model.LeadTypeEvent, model.LeadTypeOther:
		default:
			reasons = append(reasons, fmt.Sprintf("lead_types: code %q maps to unknown type %q", code, lt))
		}
	}

	if !tiersDescending(d.Tiers) {
		reasons = append(reasons, "tiers must be ordered by min_score descending")
	}

	for _, tier := range append(d.OpportunitySize.EmployeeTiers, d.OpportunitySize.RevenueTiers...) {
		if tier.Score < 0 || tier.Score > 100 {
			reasons = append(reasons, fmt.Sprintf("opportunity_size: tier score %.1f out of [0,100]", tier.Score))
		}
	}

	if usesModule(d.Weights, ModuleMessageAnalysis) && !strings.Contains(d.Message.PromptTemplate, "{{MESSAGE}}") {
		reasons = append(reasons, "message: prompt_template must contain {{MESSAGE}}")
	}

	if usesModule(d.Weights, ModulePersonRole) {
		if _, ok := d.PersonRole.SeniorityScores["unknown"]; !ok {
			reasons = append(reasons, "person_role: seniority_scores must define \"unknown\"")
		}
	}

	if d.Dedup.WindowSeconds < 0 {
		reasons = append(reasons, "dedup: window_seconds must be >= 0")
	}

	if len(reasons) > 0 {
		return &ConfigError{Reasons: reasons}
	}
	return nil
}

func tiersDescending(tiers []TierThreshold) bool {
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinScore >= tiers[i-1].MinScore {
			return false
		}
	}
	return true
}

func usesModule(weights map[model.LeadType]map[string]float64, name string) bool {
	for _, table := range weights {
		if _, ok := table[name]; ok {
			return true
		}
	}
	return false
}

// WeightsFor returns the configured weight table for a lead type.
func (d *Document) WeightsFor(lt model.LeadType) map[string]float64 {
	return d.Weights[lt]
}

// DedupWindowSeconds returns the dedup TTL, defaulting to 60s when unset.
func (d *Document) DedupWindowSeconds() int {
	if d.Dedup.WindowSeconds == 0 {
		return 60
	}
	return d.Dedup.WindowSeconds
}

// Parse decodes and validates a scoring document from YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "scoring: parse document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads and validates a scoring document from a file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: read document %s", path)
	}
	return Parse(data)
}

// DefaultDocument returns the reference scoring document. It mirrors
// scoring.yaml and is used by tests and as documentation of the defaults.
func DefaultDocument() *Document {
	return &Document{
		LeadTypes: map[string]model.LeadType{
			"inbound":           model.LeadTypeInbound,
			"product":           model.LeadTypeProduct,
			"product_qualified": model.LeadTypeProduct,
			"event":             model.LeadTypeEvent,
			"conference":        model.LeadTypeEvent,
			"trade_show":        model.LeadTypeEvent,
		},
		Weights: map[model.LeadType]map[string]float64{
			model.LeadTypeInbound: {
				ModuleOpportunitySize: 0.3,
				ModuleMessageAnalysis: 0.4,
				ModulePersonRole:      0.3,
			},
			model.LeadTypeProduct: {
				ModuleOpportunitySize: 0.5,
				ModulePersonRole:      0.5,
			},
			model.LeadTypeEvent: {
				ModuleOpportunitySize: 0.5,
				ModulePersonRole:      0.5,
			},
			model.LeadTypeOther: {
				ModuleOpportunitySize: 0.5,
				ModulePersonRole:      0.5,
			},
		},
		OpportunitySize: OpportunityConfig{
			FormSubmissionBaseScore: 70,
			NeutralScore:            50,
			AboveTierScore:          95,
			EmployeeTiers: []SizeTier{
				{Max: 10, Score: 25},
				{Max: 50, Score: 45},
				{Max: 200, Score: 65},
				{Max: 1000, Score: 80},
			},
			RevenueTiers: []SizeTier{
				{Max: 1_000_000, Score: 25},
				{Max: 10_000_000, Score: 50},
				{Max: 100_000_000, Score: 75},
			},
			BudgetKeywords: []string{"budget", "spend", "size", "seats", "users", "employees", "revenue"},
			BudgetBoosts: []SizeTier{
				{Max: 1_000, Score: 5},
				{Max: 10_000, Score: 10},
				{Max: 100_000, Score: 15},
			},
			AboveBudgetBoost: 25,
		},
		PersonRole: PersonRoleConfig{
			Priority: []string{"founder", "c_suite", "vp", "director", "manager", "senior", "individual"},
			TitleKeywords: map[string][]string{
				"founder":    {"founder", "co-founder", "owner", "president"},
				"c_suite":    {"ceo", "cto", "cfo", "coo", "cmo", "chief"},
				"vp":         {"vp", "vice president"},
				"director":   {"director", "head of"},
				"manager":    {"manager", "lead"},
				"senior":     {"senior", "principal", "staff"},
				"individual": {"engineer", "analyst", "associate", "coordinator", "specialist"},
			},
			SeniorityScores: map[string]float64{
				"founder":    95,
				"c_suite":    90,
				"vp":         80,
				"director":   70,
				"manager":    55,
				"senior":     45,
				"individual": 30,
				"unknown":    25,
			},
		},
		Message: MessageConfig{
			MinLength:      10,
			PromptTemplate: defaultMessagePrompt,
		},
		Tiers: []TierThreshold{
			{Label: "A-Priority", MinScore: 75},
			{Label: "B-Monitor", MinScore: 50},
			{Label: "C-Routine", MinScore: 0},
		},
		Dedup: DedupConfig{WindowSeconds: 60},
	}
}

const defaultMessagePrompt = `You are evaluating the buying intent of an inbound sales inquiry.

Message:
{{MESSAGE}}

Assess how strong the purchase intent is: concrete need, timeline, budget
signals, and whether the sender is evaluating the product seriously.

Return ONLY a JSON object:
{"intent_score": <0-100 integer>, "signal_summary": "<one sentence>"}`
