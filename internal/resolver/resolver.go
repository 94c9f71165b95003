// Package resolver fetches a Lead and its associated Contact and Company
// from the CRM and merges them into a single scoring context.
package resolver

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/pkg/hubspot"
)

// Resolver resolves lead context from the CRM. The Lead fetch is
// authoritative: not-found and upstream errors propagate to the caller
// (retry policy lives in the pipeline). Contact, form, and company lookups
// are best-effort; their failures degrade the result instead of failing it.
type Resolver struct {
	crm hubspot.Client
}

// New creates a Resolver backed by the given CRM client.
func New(crm hubspot.Client) *Resolver {
	return &Resolver{crm: crm}
}

// Resolve fetches Lead → associated Contact (+ form submissions) → Company.
// Returns hubspot.ErrNotFound when the lead does not exist and a transient
// error when the CRM is unreachable; it does not retry internally.
func (r *Resolver) Resolve(ctx context.Context, leadID string) (*model.ResolvedLead, error) {
	log := zap.L().With(zap.String("lead_id", leadID))

	lead, err := r.crm.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: fetch lead %s", leadID)
	}

	resolved := &model.ResolvedLead{
		LeadID:         leadID,
		LeadProperties: lead.Properties,
	}

	contactID, err := r.crm.AssociatedContactID(ctx, leadID)
	if err != nil {
		resolved.Errors = append(resolved.Errors, fmt.Sprintf("contact association lookup failed: %v", err))
		log.Warn("resolver: contact association lookup failed", zap.Error(err))
	}

	if contactID != "" {
		resolved.ContactID = contactID

		contact, err := r.crm.GetContact(ctx, contactID)
		if err != nil {
			resolved.Errors = append(resolved.Errors, fmt.Sprintf("contact fetch failed: %v", err))
			log.Warn("resolver: contact fetch failed", zap.String("contact_id", contactID), zap.Error(err))
		} else {
			resolved.ContactProperties = contact.Properties
		}

		subs, err := r.crm.GetFormSubmissions(ctx, contactID)
		if err != nil {
			resolved.Errors = append(resolved.Errors, fmt.Sprintf("form submissions fetch failed: %v", err))
			log.Warn("resolver: form submissions fetch failed", zap.String("contact_id", contactID), zap.Error(err))
		} else {
			resolved.FormSubmissions = convertSubmissions(subs)
		}
	}

	r.resolveCompany(ctx, resolved, log)

	return resolved, nil
}

// resolveCompany tries lead→company first, then falls back to
// contact→company. All failures degrade rather than abort.
func (r *Resolver) resolveCompany(ctx context.Context, resolved *model.ResolvedLead, log *zap.Logger) {
	companyID, err := r.crm.AssociatedCompanyID(ctx, "leads", resolved.LeadID)
	if err != nil {
		resolved.Errors = append(resolved.Errors, fmt.Sprintf("company association lookup failed: %v", err))
		log.Warn("resolver: company association lookup failed", zap.Error(err))
	}

	if companyID == "" && resolved.ContactID != "" {
		companyID, err = r.crm.AssociatedCompanyID(ctx, "contacts", resolved.ContactID)
		if err != nil {
			resolved.Errors = append(resolved.Errors, fmt.Sprintf("contact company association lookup failed: %v", err))
			log.Warn("resolver: contact company association lookup failed", zap.Error(err))
		}
	}

	if companyID == "" {
		return
	}

	company, err := r.crm.GetCompany(ctx, companyID)
	if err != nil {
		resolved.Errors = append(resolved.Errors, fmt.Sprintf("company fetch failed: %v", err))
		log.Warn("resolver: company fetch failed", zap.String("company_id", companyID), zap.Error(err))
		return
	}
	resolved.CompanyProperties = company.Properties
}

func convertSubmissions(subs []hubspot.FormSubmission) []model.FormSubmission {
	out := make([]model.FormSubmission, len(subs))
	for i, s := range subs {
		out[i] = model.FormSubmission{
			FormID:    s.FormID,
			Title:     s.Title,
			Timestamp: s.Timestamp,
			Fields:    s.Fields,
		}
	}
	return out
}
