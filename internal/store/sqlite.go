package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-scoring/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scored_records (
	lead_id         TEXT PRIMARY KEY,
	lead_type       TEXT NOT NULL,
	composite_score REAL,
	tier            TEXT,
	module_results  TEXT NOT NULL,
	weights_used    TEXT NOT NULL,
	raw_inputs      TEXT NOT NULL,
	scored_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scored_records_scored_at ON scored_records(scored_at);
CREATE INDEX IF NOT EXISTS idx_scored_records_lead_type ON scored_records(lead_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertScore(ctx context.Context, record *model.ScoredRecord) error {
	resultsJSON, weightsJSON, inputsJSON, err := marshalRecord(record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	var score any
	if record.CompositeScore != nil {
		score = *record.CompositeScore
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scored_records (lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   lead_type = excluded.lead_type,
		   composite_score = excluded.composite_score,
		   tier = excluded.tier,
		   module_results = excluded.module_results,
		   weights_used = excluded.weights_used,
		   raw_inputs = excluded.raw_inputs,
		   scored_at = excluded.scored_at`,
		record.LeadID, string(record.LeadType), score, record.Tier,
		string(resultsJSON), string(weightsJSON), string(inputsJSON), record.ScoredAt,
	)
	return eris.Wrapf(err, "sqlite: upsert score %s", record.LeadID)
}

func (s *SQLiteStore) GetScore(ctx context.Context, leadID string) (*model.ScoredRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at
		 FROM scored_records WHERE lead_id = ?`,
		leadID,
	)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]model.ScoredRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at
		 FROM scored_records ORDER BY scored_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent")
	}
	defer rows.Close()

	var records []model.ScoredRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list recent iterate")
}

// helpers

func marshalRecord(record *model.ScoredRecord) (results, weights, inputs []byte, err error) {
	if results, err = json.Marshal(record.ModuleResults); err != nil {
		return nil, nil, nil, err
	}
	if weights, err = json.Marshal(record.WeightsUsed); err != nil {
		return nil, nil, nil, err
	}
	if inputs, err = json.Marshal(record.RawInputs); err != nil {
		return nil, nil, nil, err
	}
	return results, weights, inputs, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.ScoredRecord, error) {
	var r model.ScoredRecord
	var leadType string
	var score sql.NullFloat64
	var tier sql.NullString
	var resultsJSON, weightsJSON, inputsJSON string

	err := row.Scan(&r.LeadID, &leadType, &score, &tier, &resultsJSON, &weightsJSON, &inputsJSON, &r.ScoredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	r.LeadType = model.LeadType(leadType)
	if score.Valid {
		r.CompositeScore = &score.Float64
	}
	r.Tier = tier.String
	if err := json.Unmarshal([]byte(resultsJSON), &r.ModuleResults); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal module results")
	}
	if err := json.Unmarshal([]byte(weightsJSON), &r.WeightsUsed); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weights")
	}
	if err := json.Unmarshal([]byte(inputsJSON), &r.RawInputs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal raw inputs")
	}
	return &r, nil
}
