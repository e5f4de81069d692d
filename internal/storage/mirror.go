// Package storage mirrors pipeline outputs into a local SQLite database.
// Files on disk stay canonical; every write here is best-effort and callers
// are expected to log-and-continue on failure.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/workrecap/workrecap/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS activities (
	date    TEXT NOT NULL,
	ts      TEXT NOT NULL,
	kind    TEXT NOT NULL,
	repo    TEXT NOT NULL,
	title   TEXT NOT NULL,
	url     TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_date ON activities(date);

CREATE TABLE IF NOT EXISTS daily_stats (
	date    TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	level      TEXT NOT NULL,
	date_key   TEXT NOT NULL,
	content    TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (level, date_key)
);
`

// Mirror is a SQLite copy of the normalized activities, stats and
// summaries, kept for ad-hoc querying outside the pipeline.
type Mirror struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the mirror database at path and applies the
// schema.
func Open(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mirror db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mirror db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate mirror db %s: %w", path, err)
	}
	return &Mirror{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// SaveActivities replaces the stored activities and stats for one date.
func (m *Mirror) SaveActivities(ctx context.Context, date string, activities []types.Activity, stats types.DailyStats) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE date = ?`, date); err != nil {
		return err
	}
	for _, a := range activities {
		payload, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activities (date, ts, kind, repo, title, url, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, date, a.TS, string(a.Kind), a.Repo, a.Title, a.URL, string(payload)); err != nil {
			return err
		}
	}

	statsPayload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_stats (date, payload) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET payload = excluded.payload
	`, date, string(statsPayload)); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSummary upserts one summary document. level is one of daily, weekly,
// monthly, yearly; dateKey is the level's natural key (date, year-Www,
// year-month, year).
func (m *Mirror) SaveSummary(ctx context.Context, level, dateKey, content string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO summaries (level, date_key, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(level, date_key) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, level, dateKey, content, m.now().UTC().Format(time.RFC3339))
	return err
}

// GetSummary returns the stored summary for (level, dateKey), or
// sql.ErrNoRows.
func (m *Mirror) GetSummary(ctx context.Context, level, dateKey string) (string, error) {
	var content string
	err := m.db.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE level = ? AND date_key = ?`,
		level, dateKey).Scan(&content)
	return content, err
}

// ActivityCount returns the number of mirrored activities for date.
func (m *Mirror) ActivityCount(ctx context.Context, date string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activities WHERE date = ?`, date).Scan(&count)
	return count, err
}
