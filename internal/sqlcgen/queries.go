package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const insertActionRun = `-- name: InsertActionRun :exec
INSERT INTO action_runs (id, action, started_at, duration_ms, last_error)
VALUES ($1::uuid, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`

type InsertActionRunParams struct {
	ID         string
	Action     string
	StartedAt  time.Time
	DurationMs int64
	LastError  *string
}

func (q *Queries) InsertActionRun(ctx context.Context, arg InsertActionRunParams) error {
	_, err := q.db.Exec(ctx, insertActionRun, arg.ID, arg.Action, arg.StartedAt, arg.DurationMs, arg.LastError)
	return err
}

const listActionRuns = `-- name: ListActionRuns :many
SELECT id::text, action, started_at, duration_ms, last_error, created_at
FROM action_runs
WHERE
	($1::text IS NULL OR action = $1)
	AND ($2::timestamptz IS NULL OR started_at < $2)
ORDER BY started_at DESC, id DESC
LIMIT $3
`

type ListActionRunsParams struct {
	Action          *string
	BeforeStartedAt *time.Time
	Limit           int32
}

func (q *Queries) ListActionRuns(ctx context.Context, arg ListActionRunsParams) ([]ActionRun, error) {
	rows, err := q.db.Query(ctx, listActionRuns, arg.Action, arg.BeforeStartedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ActionRun
	for rows.Next() {
		var i ActionRun
		if err := rows.Scan(&i.ID, &i.Action, &i.StartedAt, &i.DurationMs, &i.LastError, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteActionRunsBefore = `-- name: DeleteActionRunsBefore :execrows
DELETE FROM action_runs
WHERE started_at < $1
`

func (q *Queries) DeleteActionRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteActionRunsBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
