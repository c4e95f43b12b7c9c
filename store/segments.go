package store

import (
	"fmt"
	"time"

	"scribed/segment"
)

// DeadLetter is a segment that exhausted transcription retries. The audio
// file is kept for manual inspection until retention expires it.
type DeadLetter struct {
	Seq       uint64
	Path      string
	StartTime time.Time
	Duration  time.Duration
	Attempts  int
	LastError string
	CreatedAt time.Time
}

func (s *Store) AddDeadLetter(d DeadLetter) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO dead_letters (seq, path, started_at, duration_ms, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.Seq, d.Path, d.StartTime.UnixMilli(), d.Duration.Milliseconds(),
		d.Attempts, d.LastError, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("add dead letter %d: %w", d.Seq, err)
	}
	return nil
}

func (s *Store) DeadLetters() ([]DeadLetter, error) {
	rows, err := s.db.Query(`
		SELECT seq, path, started_at, duration_ms, attempts, last_error, created_at
		FROM dead_letters ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var startedAt, durationMs, createdAt int64
		if err := rows.Scan(&d.Seq, &d.Path, &startedAt, &durationMs,
			&d.Attempts, &d.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.StartTime = time.UnixMilli(startedAt)
		d.Duration = time.Duration(durationMs) * time.Millisecond
		d.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneDeadLetters drops dead letters created before cutoff, returning the
// audio paths they referenced so the caller can unlink the files.
func (s *Store) PruneDeadLetters(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM dead_letters WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query prunable dead letters: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM dead_letters WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
		return nil, fmt.Errorf("prune dead letters: %w", err)
	}
	return paths, nil
}

// AddPendingSegment records a queued-but-unprocessed segment so a crash or
// timed-out shutdown does not lose it.
func (s *Store) AddPendingSegment(seg *segment.Segment) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO pending_segments (seq, path, started_at, duration_ms, voiced_ratio)
		VALUES (?, ?, ?, ?, ?)
	`, seg.Seq, seg.Path, seg.StartTime.UnixMilli(), seg.Duration.Milliseconds(), seg.VoicedRatio)
	if err != nil {
		return fmt.Errorf("add pending segment %d: %w", seg.Seq, err)
	}
	return nil
}

// RemovePendingSegment clears the manifest entry once the segment has been
// transcribed or dead-lettered.
func (s *Store) RemovePendingSegment(seq uint64) error {
	if _, err := s.db.Exec(`DELETE FROM pending_segments WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("remove pending segment %d: %w", seq, err)
	}
	return nil
}

// PendingSegments returns the manifest in sequence order, for recovery replay.
func (s *Store) PendingSegments() ([]*segment.Segment, error) {
	rows, err := s.db.Query(`
		SELECT seq, path, started_at, duration_ms, voiced_ratio
		FROM pending_segments ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending segments: %w", err)
	}
	defer rows.Close()

	var out []*segment.Segment
	for rows.Next() {
		var seg segment.Segment
		var startedAt, durationMs int64
		if err := rows.Scan(&seg.Seq, &seg.Path, &startedAt, &durationMs, &seg.VoicedRatio); err != nil {
			return nil, fmt.Errorf("scan pending segment: %w", err)
		}
		seg.StartTime = time.UnixMilli(startedAt)
		seg.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &seg)
	}
	return out, rows.Err()
}
