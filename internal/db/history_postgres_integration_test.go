package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rpimash/core-go/internal/schedule"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Safe identifier (letters/digits/underscores) so we can use it without quoting.
	return fmt.Sprintf("rpimash_test_%d", time.Now().UnixNano())
}

func execAdmin(ctx context.Context, adminURL, stmt string) error {
	conn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, stmt)
	return err
}

func openTestPool(t *testing.T, ctx context.Context) *Pool {
	t.Helper()
	adminURL := requireTestDatabaseURL(t)

	dbName := newTestDatabaseName()
	testDBURL := mustDeriveDatabaseURL(t, adminURL, dbName)
	if err := execAdmin(ctx, adminURL, "CREATE DATABASE "+dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		_ = execAdmin(context.Background(), adminURL, "DROP DATABASE "+dbName+" WITH (FORCE)")
	})

	pool, err := Open(ctx, testDBURL)
	if err != nil {
		t.Fatalf("open db pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Idempotent.
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	return pool
}

func TestHistory_Postgres_RecordListPrune(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool := openTestPool(t, ctx)
	h := NewHistory(pool.Queries())

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	records := []schedule.ActionRecord{
		{ID: uuid.New(), Action: "first_report", StartedAt: base, Duration: 1500 * time.Millisecond},
		{ID: uuid.New(), Action: "first_credential", StartedAt: base.Add(time.Minute), Duration: 40 * time.Second},
		{ID: uuid.New(), Action: "change", StartedAt: base.Add(7 * 24 * time.Hour), Error: "session 192.0.2.1:23: session disconnected"},
	}
	for _, r := range records {
		if err := h.RecordAction(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.Action, err)
		}
	}
	// Re-recording the same run is a no-op.
	if err := h.RecordAction(ctx, records[0]); err != nil {
		t.Fatalf("record duplicate: %v", err)
	}

	runs, err := h.Recent(ctx, HistoryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Action != "change" || runs[0].Error == nil {
		t.Fatalf("expected newest failed change first, got %+v", runs[0])
	}
	if runs[2].DurationMs != 1500 {
		t.Fatalf("expected duration 1500ms, got %d", runs[2].DurationMs)
	}

	filtered, err := h.Recent(ctx, HistoryFilter{Action: "first_credential", Limit: 10})
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != records[1].ID.String() {
		t.Fatalf("unexpected filtered runs: %+v", filtered)
	}

	page, err := h.Recent(ctx, HistoryFilter{Before: runs[0].StartedAt, Limit: 1})
	if err != nil {
		t.Fatalf("recent before: %v", err)
	}
	if len(page) != 1 || page[0].ID != records[1].ID.String() {
		t.Fatalf("expected the run preceding the newest, got %+v", page)
	}

	removed, err := h.Prune(ctx, base.Add(7*24*time.Hour), 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned runs, got %d", removed)
	}
}

func TestPool_NilIsSafe(t *testing.T) {
	var p *Pool
	p.Close()
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("nil pool ping: %v", err)
	}
}
