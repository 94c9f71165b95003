package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testSecret = "whsec-test"

// stubRunner records scoring runs.
type stubRunner struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (s *stubRunner) Run(ctx context.Context, leadID string, source model.RunSource) (*model.ScoredRecord, error) {
	s.mu.Lock()
	s.runs = append(s.runs, leadID+"/"+string(source))
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return &model.ScoredRecord{LeadID: leadID}, nil
}

func newTestServer(t *testing.T) (*Server, *stubRunner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	runner := &stubRunner{}
	srv, err := New(Config{WebhookSecret: testSecret}, runner, st)
	require.NoError(t, err)
	return srv, runner, st
}

func sign(body string) string {
	h := sha256.Sum256([]byte(testSecret + body))
	return hex.EncodeToString(h[:])
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{}, &stubRunner{}, nil)
	require.Error(t, err)
}

func TestWebhook_ValidSignatureQueuesScoring(t *testing.T) {
	srv, runner, _ := newTestServer(t)
	runner.done = make(chan struct{}, 4)

	body := `[
		{"objectId": 101, "subscriptionType": "lead.creation"},
		{"objectId": 102, "subscriptionType": "lead.propertyChange", "propertyName": "hs_lead_type"},
		{"objectId": 103, "subscriptionType": "contact.creation"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-HubSpot-Signature", sign(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Queued []string `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"101", "102"}, resp.Queued)

	// Both async runs complete with webhook source.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.done:
		case <-time.After(2 * time.Second):
			t.Fatal("scoring run never started")
		}
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.ElementsMatch(t, []string{"101/webhook", "102/webhook"}, runner.runs)
}

func TestWebhook_DuplicateObjectIDsCoalesced(t *testing.T) {
	srv, runner, _ := newTestServer(t)
	runner.done = make(chan struct{}, 4)

	body := `[
		{"objectId": 7, "subscriptionType": "lead.creation"},
		{"objectId": 7, "subscriptionType": "lead.propertyChange"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-HubSpot-Signature", sign(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Queued []string `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"7"}, resp.Queued)
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	srv, runner, _ := newTestServer(t)

	body := `[{"objectId": 101, "subscriptionType": "lead.creation"}]`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-HubSpot-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.runs)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("[]"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"not": "an array"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-HubSpot-Signature", sign(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScore(t *testing.T) {
	srv, _, st := newTestServer(t)

	score := 81.0
	require.NoError(t, st.UpsertScore(context.Background(), &model.ScoredRecord{
		LeadID:         "L1",
		LeadType:       model.LeadTypeInbound,
		CompositeScore: &score,
		Tier:           "A-Priority",
		ModuleResults:  map[string]model.ModuleResult{},
		WeightsUsed:    map[string]float64{},
		ScoredAt:       time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/scores/L1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var record model.ScoredRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "A-Priority", record.Tier)
	require.NotNil(t, record.CompositeScore)
	assert.Equal(t, 81.0, *record.CompositeScore)
}

func TestGetScore_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/scores/unknown", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScores(t *testing.T) {
	srv, _, st := newTestServer(t)

	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		score := float64(10 * i)
		require.NoError(t, st.UpsertScore(context.Background(), &model.ScoredRecord{
			LeadID:         id,
			LeadType:       model.LeadTypeOther,
			CompositeScore: &score,
			ModuleResults:  map[string]model.ModuleResult{},
			WeightsUsed:    map[string]float64{},
			ScoredAt:       now.Add(time.Duration(i) * time.Second),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/scores?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Records []model.ScoredRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "c", resp.Records[0].LeadID)
}

func TestListScores_BadLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/scores?limit=0", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
