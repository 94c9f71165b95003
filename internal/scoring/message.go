package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/pkg/anthropic"
)

// MessageAnalysisModule asks the LLM to rate the buying intent of the lead's
// free-text message. It runs only for leads that carry an analyzable message;
// LLM timeouts and malformed responses surface as module failures so the
// aggregator can redistribute its weight.
type MessageAnalysisModule struct {
	llm     anthropic.Client
	model   string
	timeout time.Duration
}

// NewMessageAnalysisModule builds the message module against an LLM client.
func NewMessageAnalysisModule(llm anthropic.Client, modelName string, timeout time.Duration) *MessageAnalysisModule {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MessageAnalysisModule{llm: llm, model: modelName, timeout: timeout}
}

func (m *MessageAnalysisModule) Name() string { return ModuleMessageAnalysis }

// intentResult is the JSON shape the prompt demands from the model.
type intentResult struct {
	IntentScore   float64 `json:"intent_score"`
	SignalSummary string  `json:"signal_summary"`
}

func (m *MessageAnalysisModule) Score(ctx context.Context, lead *model.ResolvedLead, leadType model.LeadType, doc *Document) model.ModuleResult {
	msg := ExtractMessage(lead)
	if len(msg) < doc.Message.MinLength {
		return model.Failed(eris.New("message: no analyzable message on lead"))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	prompt := strings.ReplaceAll(doc.Message.PromptTemplate, "{{MESSAGE}}", msg)
	resp, err := m.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     m.model,
		MaxTokens: 512,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return model.Failed(eris.Wrap(err, "message: llm request"))
	}

	var result intentResult
	raw := anthropic.ExtractJSON(resp.Text())
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return model.Failed(eris.Wrap(err, "message: malformed llm response"))
	}
	if result.SignalSummary == "" {
		result.SignalSummary = "intent assessed from message content"
	}
	return model.Succeeded(result.IntentScore, fmt.Sprintf("intent: %s", result.SignalSummary))
}
