package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/bc-dunia/casgen/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS casgen_jobs (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS casgen_jobs_status_idx ON casgen_jobs (status);
`

// PostgresStore persists job state as a JSONB document per job, with
// status and timestamps promoted to columns for querying. The legacy
// result_files alias inside the document is normalized on both read and
// write.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection (used by tests).
func NewPostgresStoreWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func marshalState(state *types.JobState) ([]byte, error) {
	clone := state.Clone()
	clone.NormalizeFiles()
	return json.Marshal(clone)
}

func unmarshalState(data []byte) (*types.JobState, error) {
	var state types.JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode job state: %w", err)
	}
	state.NormalizeFiles()
	return &state, nil
}

func (s *PostgresStore) Create(ctx context.Context, state *types.JobState) error {
	doc, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO casgen_jobs (job_id, status, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		state.JobID, string(state.Status), doc, state.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", state.JobID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, state *types.JobState) error {
	doc, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE casgen_jobs SET status = $2, state = $3, updated_at = $4 WHERE job_id = $1`,
		state.JobID, string(state.Status), doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", state.JobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", state.JobID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, jobID string) (*types.JobState, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM casgen_jobs WHERE job_id = $1`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return unmarshalState(doc)
}

func (s *PostgresStore) List(ctx context.Context) ([]*types.JobState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM casgen_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.JobState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		state, err := unmarshalState(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}
