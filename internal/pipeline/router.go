// Package pipeline orchestrates a scoring run: classification, module
// fan-out, aggregation, and persistence.
package pipeline

import (
	"strings"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/internal/scoring"
)

// Signals consulted when the CRM carries no explicit lead type.
var (
	productKeywords = []string{"signup", "sign up", "sign-up", "trial", "onboarding", "activation", "product"}
	eventKeywords   = []string{"conference", "event", "webinar", "booth", "trade show", "tradeshow", "summit", "meetup"}

	// Substrings of hs_analytics_source / hs_analytics_source_data_1 that
	// indicate a product-led origin.
	productSourceKeywords = []string{"product", "app", "signup", "trial"}
)

// Classify derives the lead type for routing. It is a pure function of the
// resolved lead and the scoring document:
//
//  1. an explicit hs_lead_type mapped through the document's lead_types table
//     always wins;
//  2. event keywords in conversion or form titles classify as event;
//  3. product keywords in those titles, or product/signup/trial substrings
//     in the analytics source or its detail field, classify as product;
//  4. event keywords in the combined analytics source text classify as event;
//  5. any form submission or message classifies as inbound;
//  6. everything else is other.
func Classify(lead *model.ResolvedLead, doc *scoring.Document) model.LeadType {
	if explicit := strings.ToLower(strings.TrimSpace(lead.Property("hs_lead_type"))); explicit != "" {
		if lt, ok := doc.LeadTypes[explicit]; ok {
			return lt
		}
	}

	titles := conversionTitles(lead)
	if matchesAny(titles, eventKeywords) {
		return model.LeadTypeEvent
	}
	if matchesAny(titles, productKeywords) {
		return model.LeadTypeProduct
	}

	source := strings.ToLower(lead.Property("hs_analytics_source"))
	sourceDetail := strings.ToLower(lead.Property("hs_analytics_source_data_1"))
	latestSource := strings.ToLower(lead.Property("hs_latest_source"))
	if matchesAny([]string{source, sourceDetail}, productSourceKeywords) {
		return model.LeadTypeProduct
	}
	if matchesAny([]string{source, sourceDetail, latestSource}, eventKeywords) {
		return model.LeadTypeEvent
	}

	if len(lead.FormSubmissions) > 0 || scoring.ExtractMessage(lead) != "" {
		return model.LeadTypeInbound
	}
	return model.LeadTypeOther
}

// conversionTitles collects the lowercase texts classification keywords are
// matched against: form titles plus the recent conversion event name.
func conversionTitles(lead *model.ResolvedLead) []string {
	titles := make([]string, 0, len(lead.FormSubmissions)+1)
	for _, sub := range lead.FormSubmissions {
		if sub.Title != "" {
			titles = append(titles, strings.ToLower(sub.Title))
		}
	}
	if v := lead.Property("recent_conversion_event_name"); v != "" {
		titles = append(titles, strings.ToLower(v))
	}
	return titles
}

func matchesAny(titles, keywords []string) bool {
	for _, title := range titles {
		for _, kw := range keywords {
			if strings.Contains(title, kw) {
				return true
			}
		}
	}
	return false
}
