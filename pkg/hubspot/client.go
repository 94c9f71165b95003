// Package hubspot is a minimal HubSpot CRM client covering the objects and
// associations the lead-scoring pipeline needs.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-scoring/internal/resilience"
)

const defaultBaseURL = "https://api.hubapi.com"

// ErrNotFound is returned when the requested CRM object does not exist.
var ErrNotFound = errors.New("hubspot: object not found")

// Object is a CRM record with its requested properties. Null property values
// are dropped during decoding.
type Object struct {
	ID         string
	Properties map[string]string
}

// FormSubmission is one form submission from a contact's profile.
type FormSubmission struct {
	FormID    string
	Title     string
	Timestamp int64
	Fields    map[string]string
}

// Client defines the HubSpot operations used by the pipeline.
type Client interface {
	GetLead(ctx context.Context, leadID string) (*Object, error)
	GetContact(ctx context.Context, contactID string) (*Object, error)
	GetCompany(ctx context.Context, companyID string) (*Object, error)

	// AssociatedContactID resolves the contact associated with a lead.
	// Returns "" when no association exists.
	AssociatedContactID(ctx context.Context, leadID string) (string, error)

	// AssociatedCompanyID resolves the company associated with a lead or
	// contact. objectType is "leads" or "contacts". Returns "" when none.
	AssociatedCompanyID(ctx context.Context, objectType, objectID string) (string, error)

	GetFormSubmissions(ctx context.Context, contactID string) ([]FormSubmission, error)

	// UpdateLeadScore writes the tier display and rationale back to the lead.
	UpdateLeadScore(ctx context.Context, leadID, tierDisplay, details string) error

	// SearchUnscoredLeads returns up to limit lead IDs that have no score
	// property yet, oldest first, plus the total number matching.
	SearchUnscoredLeads(ctx context.Context, limit int) ([]string, int, error)
}

// Scoring-relevant property whitelists, mirroring the CRM schema.
var (
	leadProperties = []string{
		"hs_lead_name", "hs_lead_type", "lead_trigger", "hs_lead_label",
		"hs_lead_status", "hs_pipeline", "hs_pipeline_stage",
		"team_size", "user_role", "message__form_submission_",
		"hs_associated_company_name", "hs_primary_associated_object_name",
	}
	contactProperties = []string{
		"email", "firstname", "lastname", "jobtitle", "company",
		"phone", "hs_lead_status", "lifecyclestage",
		"hs_analytics_source", "hs_analytics_source_data_1",
		"hs_analytics_source_data_2", "hs_latest_source",
		"linkedin", "hs_linkedinid",
		"numemployees", "annualrevenue",
		"recent_conversion_event_name",
		"message", "hs_content_membership_notes",
	}
	companyProperties = []string{
		"name", "domain", "numberofemployees", "annualrevenue",
		"industry", "city", "state", "country",
	}
)

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a HubSpot client authenticated with a private-app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// HubSpot private apps allow ~190 requests per 10s.
		limiter: rate.NewLimiter(rate.Limit(15), 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetLead(ctx context.Context, leadID string) (*Object, error) {
	return c.getObject(ctx, "leads", leadID, leadProperties)
}

func (c *httpClient) GetContact(ctx context.Context, contactID string) (*Object, error) {
	return c.getObject(ctx, "contacts", contactID, contactProperties)
}

func (c *httpClient) GetCompany(ctx context.Context, companyID string) (*Object, error) {
	return c.getObject(ctx, "companies", companyID, companyProperties)
}

func (c *httpClient) getObject(ctx context.Context, objectType, id string, props []string) (*Object, error) {
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?properties=%s", objectType, id, strings.Join(props, ","))

	var payload struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	return &Object{ID: payload.ID, Properties: stringProperties(payload.Properties)}, nil
}

func (c *httpClient) AssociatedContactID(ctx context.Context, leadID string) (string, error) {
	return c.firstAssociation(ctx, fmt.Sprintf("/crm/v3/objects/leads/%s/associations/contacts", leadID))
}

func (c *httpClient) AssociatedCompanyID(ctx context.Context, objectType, objectID string) (string, error) {
	return c.firstAssociation(ctx, fmt.Sprintf("/crm/v3/objects/%s/%s/associations/companies", objectType, objectID))
}

func (c *httpClient) firstAssociation(ctx context.Context, path string) (string, error) {
	var payload struct {
		Results []struct {
			ToObjectID json.Number `json:"toObjectId"`
			ID         string      `json:"id"`
		} `json:"results"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(payload.Results) == 0 {
		return "", nil
	}
	if id := payload.Results[0].ToObjectID.String(); id != "" && id != "0" {
		return id, nil
	}
	return payload.Results[0].ID, nil
}

func (c *httpClient) GetFormSubmissions(ctx context.Context, contactID string) ([]FormSubmission, error) {
	path := fmt.Sprintf("/contacts/v1/contact/vid/%s/profile", contactID)

	var payload struct {
		FormSubmissions []struct {
			FormID     string `json:"form-id"`
			Title      string `json:"title"`
			Timestamp  int64  `json:"timestamp"`
			FormFields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"form-fields"`
		} `json:"form-submissions"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	subs := make([]FormSubmission, 0, len(payload.FormSubmissions))
	for _, entry := range payload.FormSubmissions {
		fields := make(map[string]string, len(entry.FormFields))
		for _, f := range entry.FormFields {
			fields[f.Name] = f.Value
		}
		subs = append(subs, FormSubmission{
			FormID:    entry.FormID,
			Title:     entry.Title,
			Timestamp: entry.Timestamp,
			Fields:    fields,
		})
	}
	return subs, nil
}

func (c *httpClient) UpdateLeadScore(ctx context.Context, leadID, tierDisplay, details string) error {
	body := map[string]any{
		"properties": map[string]string{
			"gtme_lead_score":         tierDisplay,
			"gtme_lead_score_details": details,
		},
	}
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("/crm/v3/objects/leads/%s", leadID), body, nil)
}

func (c *httpClient) SearchUnscoredLeads(ctx context.Context, limit int) ([]string, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	body := map[string]any{
		"filterGroups": []map[string]any{{
			"filters": []map[string]any{
				{"propertyName": "gtme_lead_score", "operator": "NOT_HAS_PROPERTY"},
			},
		}},
		"sorts":      []map[string]string{{"propertyName": "hs_createdate", "direction": "ASCENDING"}},
		"properties": []string{"hs_lead_name", "hs_createdate"},
		"limit":      limit,
	}

	var payload struct {
		Total   int `json:"total"`
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := c.send(ctx, http.MethodPost, "/crm/v3/objects/leads/search", body, &payload); err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(payload.Results))
	for _, r := range payload.Results {
		ids = append(ids, r.ID)
	}
	total := payload.Total
	if total == 0 {
		total = len(ids)
	}
	return ids, total, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *httpClient) send(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "hubspot: rate limiter")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "hubspot: %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := eris.Errorf("hubspot: %s %s returned %d: %s", method, path, resp.StatusCode, string(data))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "hubspot: decode %s response", path)
	}
	return nil
}

// stringProperties converts a raw property map to strings, dropping nulls.
func stringProperties(raw map[string]any) map[string]string {
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			props[k] = val
		default:
			props[k] = fmt.Sprint(val)
		}
	}
	return props
}
