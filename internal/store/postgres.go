package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/pomelolab/pomelo/internal/result"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS pomelo_runs (
	run_id     TEXT PRIMARY KEY,
	feature    TEXT NOT NULL,
	status     TEXT NOT NULL,
	pass_rate  TEXT NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists run results in a pomelo_runs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring pomelo_runs table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save upserts the result so a re-save of the same run id never fails.
func (s *PostgresStore) Save(ctx context.Context, runID string, res *result.Specification) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pomelo_runs (run_id, feature, status, pass_rate, result)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE
		SET feature = EXCLUDED.feature,
		    status = EXCLUDED.status,
		    pass_rate = EXCLUDED.pass_rate,
		    result = EXCLUDED.result`,
		runID, res.Feature.Name, string(res.Status), res.Summary.PassRate, data)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", runID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (*result.Specification, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM pomelo_runs WHERE run_id = $1`, runID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var res result.Specification
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &res, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
