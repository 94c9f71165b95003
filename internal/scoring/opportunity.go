package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/lead-scoring/internal/model"
)

// OpportunitySizeModule scores the commercial size of the opportunity from
// company-size signals (employee count, annual revenue) with a form-submission
// floor. It works on whatever data resolved and never fails.
type OpportunitySizeModule struct{}

// NewOpportunitySizeModule returns the opportunity-size module.
func NewOpportunitySizeModule() *OpportunitySizeModule {
	return &OpportunitySizeModule{}
}

func (m *OpportunitySizeModule) Name() string { return ModuleOpportunitySize }

// Property keys checked, in order, for each size signal. Lead/contact
// properties are consulted via the merged view, then the company record.
var (
	employeeKeys = []string{"team_size", "numemployees", "numberofemployees"}
	revenueKeys  = []string{"annualrevenue", "total_revenue"}
)

func (m *OpportunitySizeModule) Score(ctx context.Context, lead *model.ResolvedLead, leadType model.LeadType, doc *Document) model.ModuleResult {
	cfg := doc.OpportunitySize

	var (
		best      float64
		bestLabel string
		found     bool
	)

	if employees, ok := lookupNumber(lead, employeeKeys); ok {
		score := tierScore(cfg.EmployeeTiers, cfg.AboveTierScore, employees)
		if !found || score > best {
			best, bestLabel, found = score, fmt.Sprintf("%.0f employees", employees), true
		}
	}
	if revenue, ok := lookupNumber(lead, revenueKeys); ok {
		score := tierScore(cfg.RevenueTiers, cfg.AboveTierScore, revenue)
		if !found || score > best {
			best, bestLabel, found = score, fmt.Sprintf("annual revenue %.0f", revenue), true
		}
	}

	if len(lead.FormSubmissions) > 0 {
		formScore := cfg.FormSubmissionBaseScore
		label := fmt.Sprintf("%d form submission(s) at base score", len(lead.FormSubmissions))
		if boost := budgetBoost(lead.FormSubmissions, cfg); boost > 0 {
			formScore += boost
			label += fmt.Sprintf(", budget signal boost +%.0f", boost)
		}
		if found && best > formScore {
			return model.Succeeded(best, fmt.Sprintf("size signal: %s", bestLabel))
		}
		if found {
			label += "; " + bestLabel
		}
		return model.Succeeded(formScore, label)
	}

	if found {
		return model.Succeeded(best, fmt.Sprintf("size signal: %s", bestLabel))
	}
	return model.Succeeded(cfg.NeutralScore, "no size signals; neutral score")
}

// budgetBoost scans form fields for budget/size indicators and maps the
// strongest numeric value found through the boost tiers.
func budgetBoost(forms []model.FormSubmission, cfg OpportunityConfig) float64 {
	boost := 0.0
	for _, sub := range forms {
		for key, value := range sub.Fields {
			if !matchesBudgetKeyword(key, cfg.BudgetKeywords) {
				continue
			}
			if num, ok := parseNumber(value); ok && num > 0 {
				if b := tierScore(cfg.BudgetBoosts, cfg.AboveBudgetBoost, num); b > boost {
					boost = b
				}
			}
		}
	}
	return boost
}

func matchesBudgetKeyword(field string, keywords []string) bool {
	field = strings.ToLower(field)
	for _, kw := range keywords {
		if strings.Contains(field, kw) {
			return true
		}
	}
	return false
}

// tierScore maps a value through ascending tier bounds; values beyond the last
// bound get aboveScore.
func tierScore(tiers []SizeTier, aboveScore, value float64) float64 {
	for _, t := range tiers {
		if value <= t.Max {
			return t.Score
		}
	}
	return aboveScore
}

// lookupNumber finds the first parseable numeric property among keys, checking
// the merged lead/contact view before the company record.
func lookupNumber(lead *model.ResolvedLead, keys []string) (float64, bool) {
	for _, key := range keys {
		if v, ok := parseNumber(lead.Property(key)); ok {
			return v, true
		}
		if v, ok := parseNumber(lead.CompanyProperties[key]); ok {
			return v, true
		}
	}
	return 0, false
}

// parseNumber tolerates CRM formatting noise: thousands separators, currency
// symbols, and "500+" style ranges.
func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "$+~ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	// "100-500" ranges score by the lower bound.
	if i := strings.IndexAny(s, "-–"); i > 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
