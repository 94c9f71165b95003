package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/pkg/anthropic"
)

// PersonRoleModule scores the seniority of the person behind the lead. Job
// titles are classified locally against the document's keyword tables; when no
// title resolved, a web-search-backed LLM lookup by name and company fills the
// gap. Missing data (no title, no name+company, no LLM) falls through to the
// configured "unknown" score; an external-service error or malformed lookup
// response fails the module so the aggregator redistributes its weight.
type PersonRoleModule struct {
	llm     anthropic.Client
	model   string
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]lookupResult
}

type lookupResult struct {
	title     string
	seniority string
}

// NewPersonRoleModule builds the person/role module. llm may be nil, in which
// case the web-search fallback is disabled and title-less leads score unknown.
func NewPersonRoleModule(llm anthropic.Client, modelName string, timeout time.Duration) *PersonRoleModule {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PersonRoleModule{
		llm:     llm,
		model:   modelName,
		timeout: timeout,
		cache:   make(map[string]lookupResult),
	}
}

func (m *PersonRoleModule) Name() string { return ModulePersonRole }

// titleKeys are checked, in order, for a job title on the merged view.
var titleKeys = []string{"jobtitle", "user_role", "job_function"}

func (m *PersonRoleModule) Score(ctx context.Context, lead *model.ResolvedLead, leadType model.LeadType, doc *Document) model.ModuleResult {
	title := firstProperty(lead, titleKeys)

	if title != "" {
		level := classifyTitle(title, doc.PersonRole)
		return model.Succeeded(doc.PersonRole.SeniorityScores[level],
			fmt.Sprintf("title %q classified as %s", title, level))
	}

	looked, ok, err := m.lookup(ctx, lead)
	if err != nil {
		return model.Failed(err)
	}
	if ok {
		level := classifyTitle(looked.title, doc.PersonRole)
		if looked.seniority != "" {
			if _, known := doc.PersonRole.SeniorityScores[looked.seniority]; known && level == "unknown" {
				level = looked.seniority
			}
		}
		return model.Succeeded(doc.PersonRole.SeniorityScores[level],
			fmt.Sprintf("looked-up title %q classified as %s", looked.title, level))
	}

	return model.Succeeded(doc.PersonRole.SeniorityScores["unknown"], "no title available; unknown seniority")
}

// classifyTitle returns the first priority level whose keywords match the
// title on a word boundary, or "unknown".
func classifyTitle(title string, cfg PersonRoleConfig) string {
	lowered := strings.ToLower(title)
	for _, level := range cfg.Priority {
		for _, kw := range cfg.TitleKeywords[level] {
			if containsWord(lowered, kw) {
				return level
			}
		}
	}
	return "unknown"
}

// containsWord matches keyword against s on word boundaries, so "vp" does not
// match inside "developer".
func containsWord(s, keyword string) bool {
	pattern := `(^|[^a-z0-9])` + regexp.QuoteMeta(strings.ToLower(keyword)) + `($|[^a-z0-9])`
	matched, err := regexp.MatchString(pattern, s)
	return err == nil && matched
}

// personPrompt asks for a strict JSON answer so the response parses without
// heuristics.
const personPrompt = `Find the current job title of %s at %s using web search.

Return ONLY a JSON object:
{"title": "<job title or empty string>", "seniority": "<founder|c_suite|vp|director|manager|senior|individual|unknown>", "confidence": <0.0-1.0>}`

type personLookup struct {
	Title      string  `json:"title"`
	Seniority  string  `json:"seniority"`
	Confidence float64 `json:"confidence"`
}

// lookup resolves the person's title via a web-search LLM call, cached per
// name+company for the process lifetime. A missing precondition (no LLM, no
// name or company) returns ok=false with no error; an external failure or
// unparseable response returns the error.
func (m *PersonRoleModule) lookup(ctx context.Context, lead *model.ResolvedLead) (lookupResult, bool, error) {
	if m.llm == nil {
		return lookupResult{}, false, nil
	}

	name := strings.TrimSpace(lead.Property("firstname") + " " + lead.Property("lastname"))
	company := lead.CompanyProperties["name"]
	if company == "" {
		company = lead.Property("company")
	}
	if name == "" || company == "" {
		return lookupResult{}, false, nil
	}

	key := strings.ToLower(name + "|" + company)
	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, true, nil
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	maxUses := 3
	resp, err := m.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     m.model,
		MaxTokens: 512,
		Messages:  []anthropic.Message{{Role: "user", Content: fmt.Sprintf(personPrompt, name, company)}},
		WebSearch: &anthropic.WebSearchTool{MaxUses: maxUses},
	})
	if err != nil {
		return lookupResult{}, false, eris.Wrap(err, "person: web lookup")
	}

	var parsed personLookup
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(resp.Text())), &parsed); err != nil {
		return lookupResult{}, false, eris.Wrap(err, "person: malformed lookup response")
	}
	if parsed.Title == "" || parsed.Confidence < 0.5 {
		// The service answered but could not name a title with confidence.
		return lookupResult{}, false, nil
	}

	result := lookupResult{title: parsed.Title, seniority: parsed.Seniority}
	m.mu.Lock()
	m.cache[key] = result
	m.mu.Unlock()
	return result, true, nil
}

func firstProperty(lead *model.ResolvedLead, keys []string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(lead.Property(key)); v != "" {
			return v
		}
	}
	return ""
}
