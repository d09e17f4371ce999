package db

import (
	"context"
	"time"

	"rpimash/core-go/internal/schedule"
	"rpimash/core-go/internal/sqlcgen"
)

// History stores executed scheduler actions in Postgres.
type History struct {
	q *sqlcgen.Queries
}

func NewHistory(q *sqlcgen.Queries) *History {
	return &History{q: q}
}

func (h *History) RecordAction(ctx context.Context, rec schedule.ActionRecord) error {
	var lastErr *string
	if rec.Error != "" {
		e := rec.Error
		lastErr = &e
	}
	return h.q.InsertActionRun(ctx, sqlcgen.InsertActionRunParams{
		ID:         rec.ID.String(),
		Action:     rec.Action,
		StartedAt:  rec.StartedAt.UTC(),
		DurationMs: rec.Duration.Milliseconds(),
		LastError:  lastErr,
	})
}

type ActionRun struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      *string   `json:"error,omitempty"`
}

// HistoryFilter selects runs for Recent. Zero fields do not filter.
type HistoryFilter struct {
	Action string
	// Before pages backwards: only runs that started strictly earlier.
	Before time.Time
	Limit  int
}

// Recent lists up to f.Limit runs, newest first.
func (h *History) Recent(ctx context.Context, f HistoryFilter) ([]ActionRun, error) {
	arg := sqlcgen.ListActionRunsParams{Limit: int32(f.Limit)}
	if f.Action != "" {
		arg.Action = &f.Action
	}
	if !f.Before.IsZero() {
		before := f.Before.UTC()
		arg.BeforeStartedAt = &before
	}
	rows, err := h.q.ListActionRuns(ctx, arg)
	if err != nil {
		return nil, err
	}
	out := make([]ActionRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActionRun{ID: r.ID, Action: r.Action, StartedAt: r.StartedAt, DurationMs: r.DurationMs, Error: r.LastError})
	}
	return out, nil
}

// Prune removes runs that started before now minus retention.
func (h *History) Prune(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	return h.q.DeleteActionRunsBefore(ctx, now.Add(-retention))
}
