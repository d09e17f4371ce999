package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"rpimash/core-go/internal/sqlcgen"
)

type Pool struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return &Pool{pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

func (p *Pool) Queries() *sqlcgen.Queries {
	return sqlcgen.New(p.pool)
}

const schema = `
CREATE TABLE IF NOT EXISTS action_runs (
  id          uuid PRIMARY KEY,
  action      text        NOT NULL,
  started_at  timestamptz NOT NULL,
  duration_ms bigint      NOT NULL DEFAULT 0,
  last_error  text,
  created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS action_runs_started_at_idx ON action_runs (started_at DESC);
`

// Migrate creates the history tables when they do not exist yet.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}
