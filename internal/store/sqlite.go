package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/schedule"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schedule_state (
	id                    INTEGER PRIMARY KEY CHECK (id = 1),
	report_epoch          INTEGER NOT NULL DEFAULT 0,
	password_change_epoch INTEGER NOT NULL DEFAULT 0,
	password_prewarn_epoch INTEGER NOT NULL DEFAULT 0,
	has_warned            INTEGER NOT NULL DEFAULT 0,
	current_credential    TEXT NOT NULL DEFAULT '',
	next_credential       TEXT NOT NULL DEFAULT '',
	report_frequency      INTEGER NOT NULL DEFAULT 0,
	change_frequency      INTEGER NOT NULL DEFAULT 0,
	prewarn_frequency     INTEGER NOT NULL DEFAULT 0,
	multiplier            INTEGER NOT NULL DEFAULT 86400,
	updated_at            DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore keeps the state as the single row of schedule_state.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schedule_state: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (schedule.State, error) {
	var (
		st   schedule.State
		mult int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT report_epoch, password_change_epoch, password_prewarn_epoch, has_warned,
		       current_credential, next_credential,
		       report_frequency, change_frequency, prewarn_frequency, multiplier
		FROM schedule_state WHERE id = 1`).Scan(
		&st.ReportEpoch, &st.PasswordChangeEpoch, &st.PasswordPrewarnEpoch, &st.HasWarned,
		&st.CurrentCredential, &st.NextCredential,
		&st.ReportFrequency, &st.ChangeFrequency, &st.PrewarnFrequency, &mult,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.State{}, ErrNotFound
	}
	if err != nil {
		return schedule.State{}, err
	}
	st.Multiplier = config.Multiplier(mult)
	if err := st.Validate(); err != nil {
		return schedule.State{}, err
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st schedule.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (
			id, report_epoch, password_change_epoch, password_prewarn_epoch, has_warned,
			current_credential, next_credential,
			report_frequency, change_frequency, prewarn_frequency, multiplier, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			report_epoch = excluded.report_epoch,
			password_change_epoch = excluded.password_change_epoch,
			password_prewarn_epoch = excluded.password_prewarn_epoch,
			has_warned = excluded.has_warned,
			current_credential = excluded.current_credential,
			next_credential = excluded.next_credential,
			report_frequency = excluded.report_frequency,
			change_frequency = excluded.change_frequency,
			prewarn_frequency = excluded.prewarn_frequency,
			multiplier = excluded.multiplier,
			updated_at = CURRENT_TIMESTAMP`,
		st.ReportEpoch, st.PasswordChangeEpoch, st.PasswordPrewarnEpoch, st.HasWarned,
		st.CurrentCredential, st.NextCredential,
		st.ReportFrequency, st.ChangeFrequency, st.PrewarnFrequency, int(st.Multiplier),
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
