package scoring

import (
	"context"
	"strings"

	"github.com/sells-group/lead-scoring/internal/model"
)

// Module is a single scoring dimension. Implementations never panic and never
// abort a run: they return a failure ModuleResult and the aggregator
// redistributes their weight.
type Module interface {
	Name() string
	Score(ctx context.Context, lead *model.ResolvedLead, leadType model.LeadType, doc *Document) model.ModuleResult
}

// messagePropertyKeys are checked, in order, for an inline message on the
// lead or contact.
var messagePropertyKeys = []string{
	"message__form_submission_",
	"message",
	"hs_content_membership_notes",
}

// formMessageFields are checked on each form submission's fields.
var formMessageFields = []string{"message", "comments", "description", "how_can_we_help"}

// ExtractMessage returns the free-text message attached to the lead, checking
// lead/contact properties first and then form submission fields, newest form
// last. Returns "" when the lead carries no message.
func ExtractMessage(lead *model.ResolvedLead) string {
	for _, key := range messagePropertyKeys {
		if v := strings.TrimSpace(lead.Property(key)); v != "" {
			return v
		}
	}
	for i := len(lead.FormSubmissions) - 1; i >= 0; i-- {
		for _, field := range formMessageFields {
			if v := strings.TrimSpace(lead.FormSubmissions[i].Fields[field]); v != "" {
				return v
			}
		}
	}
	return ""
}

// HasMessage reports whether the lead carries an analyzable message under the
// document's minimum length.
func HasMessage(lead *model.ResolvedLead, doc *Document) bool {
	return len(ExtractMessage(lead)) >= doc.Message.MinLength
}

// ModulesFor selects which of the given modules run for a lead type: a module
// runs when the type's weight table assigns it a positive weight, and the
// message module additionally requires an analyzable message.
func ModulesFor(modules []Module, lead *model.ResolvedLead, leadType model.LeadType, doc *Document) []Module {
	weights := doc.WeightsFor(leadType)
	var selected []Module
	for _, m := range modules {
		if weights[m.Name()] <= 0 {
			continue
		}
		if m.Name() == ModuleMessageAnalysis && !HasMessage(lead, doc) {
			continue
		}
		selected = append(selected, m)
	}
	return selected
}
