// Package store persists pipeline state in SQLite: transcript entries,
// summaries, sync records, dead-lettered segments and the pending-segment
// manifest used for crash recovery.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"scribed/summary"
	"scribed/transcript"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY,
	date        TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	text        TEXT    NOT NULL,
	confidence  REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);

CREATE TABLE IF NOT EXISTS summaries (
	id           TEXT PRIMARY KEY,
	kind         TEXT    NOT NULL,
	period_start INTEGER NOT NULL,
	period_end   INTEGER NOT NULL,
	content      TEXT    NOT NULL,
	empty        INTEGER NOT NULL DEFAULT 0,
	first_seq    INTEGER NOT NULL DEFAULT 0,
	last_seq     INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_period ON summaries(period_start);

CREATE TABLE IF NOT EXISTS sync_records (
	artifact_id  TEXT PRIMARY KEY,
	content_hash TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	remote_id    TEXT    NOT NULL DEFAULT '',
	revision     TEXT    NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	artifact_id    TEXT    NOT NULL,
	local_content  TEXT    NOT NULL,
	remote_content TEXT    NOT NULL,
	detected_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letters (
	seq         INTEGER PRIMARY KEY,
	path        TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	last_error  TEXT    NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_segments (
	seq          INTEGER PRIMARY KEY,
	path         TEXT    NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	voiced_ratio REAL    NOT NULL
);
`

// SyncStatus values for sync_records.status.
const (
	SyncPending  = "pending"
	SyncSynced   = "synced"
	SyncFailed   = "failed"
	SyncConflict = "conflict"
)

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver serializes per connection; a single connection avoids
	// SQLITE_BUSY between pipeline goroutines.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEntry stores a transcript entry. Re-inserting a seq is a no-op, same
// as the in-memory log.
func (s *Store) InsertEntry(e transcript.Entry) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO entries (seq, date, started_at, duration_ms, text, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Seq, transcript.DateKey(e.StartTime), e.StartTime.UnixMilli(),
		e.Duration.Milliseconds(), e.Text, e.Confidence)
	if err != nil {
		return fmt.Errorf("insert entry %d: %w", e.Seq, err)
	}
	return nil
}

// EntriesByDate returns the stored entries for a date in start-time order.
func (s *Store) EntriesByDate(date string) ([]transcript.Entry, error) {
	rows, err := s.db.Query(`
		SELECT seq, started_at, duration_ms, text, confidence
		FROM entries WHERE date = ? ORDER BY started_at ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var startedAt, durationMs int64
		if err := rows.Scan(&e.Seq, &startedAt, &durationMs, &e.Text, &e.Confidence); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.StartTime = time.UnixMilli(startedAt)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest segment sequence number seen across entries,
// dead letters and pending segments. Recovery seeds the writer past it.
func (s *Store) MaxSeq() (uint64, error) {
	row := s.db.QueryRow(`
		SELECT MAX(m) FROM (
			SELECT COALESCE(MAX(seq), 0) AS m FROM entries
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM dead_letters
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM pending_segments
		)
	`)
	var max uint64
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return max, nil
}

// SaveSummary stores one generated summary artifact.
func (s *Store) SaveSummary(sum summary.Summary) error {
	empty := 0
	if sum.Empty {
		empty = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO summaries
			(id, kind, period_start, period_end, content, empty, first_seq, last_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.ID, string(sum.Kind), sum.PeriodStart.UnixMilli(), sum.PeriodEnd.UnixMilli(),
		sum.Content, empty, sum.FirstSeq, sum.LastSeq, sum.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save summary %s: %w", sum.ID, err)
	}
	return nil
}

// LastPeriodEnd returns the period end of the most recent summary of kind.
// ok is false when no summary of that kind has ever been saved. The scheduler
// seeds restart catch-up from this.
func (s *Store) LastPeriodEnd(kind summary.Kind) (time.Time, bool, error) {
	row := s.db.QueryRow(`SELECT MAX(period_end) FROM summaries WHERE kind = ?`, string(kind))
	var end sql.NullInt64
	if err := row.Scan(&end); err != nil {
		return time.Time{}, false, fmt.Errorf("last period end: %w", err)
	}
	if !end.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(end.Int64), true, nil
}

// SummariesSince returns summaries whose period starts at or after t, oldest
// first.
func (s *Store) SummariesSince(t time.Time) ([]summary.Summary, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, period_start, period_end, content, empty, first_seq, last_seq, created_at
		FROM summaries WHERE period_start >= ? ORDER BY period_start ASC
	`, t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []summary.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanSummary(rows *sql.Rows) (summary.Summary, error) {
	var sum summary.Summary
	var kind string
	var start, end, created int64
	var empty int
	if err := rows.Scan(&sum.ID, &kind, &start, &end, &sum.Content, &empty,
		&sum.FirstSeq, &sum.LastSeq, &created); err != nil {
		return sum, fmt.Errorf("scan summary: %w", err)
	}
	sum.Kind = summary.Kind(kind)
	sum.PeriodStart = time.UnixMilli(start)
	sum.PeriodEnd = time.UnixMilli(end)
	sum.Empty = empty != 0
	sum.CreatedAt = time.UnixMilli(created)
	return sum, nil
}
