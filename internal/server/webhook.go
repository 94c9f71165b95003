package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/lead-scoring/internal/metrics"
	"github.com/sells-group/lead-scoring/internal/model"
)

// maxWebhookBody caps how much of a webhook payload is read.
const maxWebhookBody = 1 << 20

// webhookEvent is one entry of the HubSpot webhook payload array.
type webhookEvent struct {
	ObjectID         int64  `json:"objectId"`
	SubscriptionType string `json:"subscriptionType"`
	PropertyName     string `json:"propertyName,omitempty"`
}

// scoringSubscriptions are the subscription types that trigger a run.
var scoringSubscriptions = map[string]bool{
	"lead.creation":       true,
	"lead.propertyChange": true,
}

// handleWebhook validates the HubSpot signature, filters events to lead
// subscriptions, and kicks off scoring asynchronously. The response never
// waits for scoring to finish.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !s.validSignature(r.Header.Get("X-HubSpot-Signature"), body) {
		metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
		s.log.Warn("webhook rejected, bad signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var events []webhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	queued := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if !scoringSubscriptions[ev.SubscriptionType] || ev.ObjectID == 0 {
			metrics.WebhookEvents.WithLabelValues("ignored").Inc()
			continue
		}
		leadID := strconv.FormatInt(ev.ObjectID, 10)
		if seen[leadID] {
			continue
		}
		seen[leadID] = true
		metrics.WebhookEvents.WithLabelValues("accepted").Inc()
		queued = append(queued, leadID)
		go s.scoreAsync(leadID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

// validSignature checks the v1 HubSpot signature:
// hex(sha256(secret + body)) compared in constant time.
func (s *Server) validSignature(got string, body []byte) bool {
	if got == "" {
		return false
	}
	h := sha256.Sum256(append([]byte(s.cfg.WebhookSecret), body...))
	want := hex.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// scoreAsync runs the pipeline detached from the webhook request, with its
// own deadline. The pipeline's dedup window absorbs the burst of events
// HubSpot sends per lead.
func (s *Server) scoreAsync(leadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ScoreTimeout)
	defer cancel()

	if _, err := s.pipeline.Run(ctx, leadID, model.SourceWebhook); err != nil {
		s.log.Warn("webhook-triggered scoring failed",
			zap.String("lead_id", leadID),
			zap.Error(err))
	}
}
