package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scoring/internal/db"
	"github.com/sells-group/lead-scoring/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot path.
var preparedStatements = map[string]string{
	"upsert_score": `INSERT INTO scored_records (lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   lead_type = EXCLUDED.lead_type,
		   composite_score = EXCLUDED.composite_score,
		   tier = EXCLUDED.tier,
		   module_results = EXCLUDED.module_results,
		   weights_used = EXCLUDED.weights_used,
		   raw_inputs = EXCLUDED.raw_inputs,
		   scored_at = EXCLUDED.scored_at`,
	"get_score": `SELECT lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at
		 FROM scored_records WHERE lead_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, for tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scored_records (
	lead_id         TEXT PRIMARY KEY,
	lead_type       TEXT NOT NULL,
	composite_score DOUBLE PRECISION,
	tier            TEXT,
	module_results  JSONB NOT NULL,
	weights_used    JSONB NOT NULL,
	raw_inputs      JSONB NOT NULL,
	scored_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scored_records_scored_at ON scored_records(scored_at DESC);
CREATE INDEX IF NOT EXISTS idx_scored_records_lead_type ON scored_records(lead_type);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertScore(ctx context.Context, record *model.ScoredRecord) error {
	resultsJSON, weightsJSON, inputsJSON, err := marshalRecord(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scored_records (lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   lead_type = EXCLUDED.lead_type,
		   composite_score = EXCLUDED.composite_score,
		   tier = EXCLUDED.tier,
		   module_results = EXCLUDED.module_results,
		   weights_used = EXCLUDED.weights_used,
		   raw_inputs = EXCLUDED.raw_inputs,
		   scored_at = EXCLUDED.scored_at`,
		record.LeadID, string(record.LeadType), record.CompositeScore, record.Tier,
		resultsJSON, weightsJSON, inputsJSON, record.ScoredAt,
	)
	return eris.Wrapf(err, "postgres: upsert score %s", record.LeadID)
}

func (s *PostgresStore) GetScore(ctx context.Context, leadID string) (*model.ScoredRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at
		 FROM scored_records WHERE lead_id = $1`,
		leadID,
	)
	r, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get score %s", leadID)
	}
	return r, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]model.ScoredRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT lead_id, lead_type, composite_score, tier, module_results, weights_used, raw_inputs, scored_at
		 FROM scored_records ORDER BY scored_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent")
	}
	defer rows.Close()

	var records []model.ScoredRecord
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list recent iterate")
}

func scanPostgresRecord(row pgx.Row) (*model.ScoredRecord, error) {
	var r model.ScoredRecord
	var leadType string
	var tier *string
	var resultsJSON, weightsJSON, inputsJSON []byte

	err := row.Scan(&r.LeadID, &leadType, &r.CompositeScore, &tier, &resultsJSON, &weightsJSON, &inputsJSON, &r.ScoredAt)
	if err != nil {
		return nil, err
	}

	r.LeadType = model.LeadType(leadType)
	if tier != nil {
		r.Tier = *tier
	}
	if err := json.Unmarshal(resultsJSON, &r.ModuleResults); err != nil {
		return nil, eris.Wrap(err, "unmarshal module results")
	}
	if err := json.Unmarshal(weightsJSON, &r.WeightsUsed); err != nil {
		return nil, eris.Wrap(err, "unmarshal weights")
	}
	if err := json.Unmarshal(inputsJSON, &r.RawInputs); err != nil {
		return nil, eris.Wrap(err, "unmarshal raw inputs")
	}
	return &r, nil
}
