package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scoring/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgres_GetScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT lead_id, lead_type, composite_score, tier`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetScore(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	score := 71.5
	tier := "B-Monitor"
	resultsJSON, _ := json.Marshal(map[string]model.ModuleResult{
		"person_role": model.Succeeded(71.5, "vp"),
	})
	weightsJSON, _ := json.Marshal(map[string]float64{"person_role": 1.0})
	inputsJSON, _ := json.Marshal(model.RawInputs{ContactID: "C1"})
	scoredAt := time.Now().UTC()

	mock.ExpectQuery(`SELECT lead_id, lead_type, composite_score, tier`).
		WithArgs("L1").
		WillReturnRows(pgxmock.NewRows([]string{
			"lead_id", "lead_type", "composite_score", "tier",
			"module_results", "weights_used", "raw_inputs", "scored_at",
		}).AddRow("L1", "inbound", &score, &tier, resultsJSON, weightsJSON, inputsJSON, scoredAt))

	got, err := s.GetScore(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadTypeInbound, got.LeadType)
	require.NotNil(t, got.CompositeScore)
	assert.Equal(t, 71.5, *got.CompositeScore)
	assert.Equal(t, "C1", got.RawInputs.ContactID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scored_records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	score := 55.0
	rec := &model.ScoredRecord{
		LeadID:         "L1",
		LeadType:       model.LeadTypeProduct,
		CompositeScore: &score,
		Tier:           "B-Monitor",
		ModuleResults:  map[string]model.ModuleResult{"opportunity_size": model.Succeeded(55, "")},
		WeightsUsed:    map[string]float64{"opportunity_size": 1.0},
		ScoredAt:       time.Now().UTC(),
	}
	require.NoError(t, s.UpsertScore(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRecent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	resultsJSON, _ := json.Marshal(map[string]model.ModuleResult{})
	weightsJSON, _ := json.Marshal(map[string]float64{})
	inputsJSON, _ := json.Marshal(model.RawInputs{})
	score := 90.0
	tier := "A-Priority"

	mock.ExpectQuery(`ORDER BY scored_at DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{
			"lead_id", "lead_type", "composite_score", "tier",
			"module_results", "weights_used", "raw_inputs", "scored_at",
		}).AddRow("L1", "inbound", &score, &tier, resultsJSON, weightsJSON, inputsJSON, time.Now().UTC()))

	records, err := s.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A-Priority", records[0].Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}
