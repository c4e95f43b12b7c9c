package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncRecord tracks the remote state of one artifact.
type SyncRecord struct {
	ArtifactID  string
	ContentHash string
	Status      string
	RemoteID    string
	Revision    string
	Attempts    int
	UpdatedAt   time.Time
}

// ErrNoRecord is returned when no sync record exists for an artifact.
var ErrNoRecord = errors.New("store: no sync record")

func (s *Store) UpsertSyncRecord(r SyncRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_records (artifact_id, content_hash, status, remote_id, revision, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			status       = excluded.status,
			remote_id    = excluded.remote_id,
			revision     = excluded.revision,
			attempts     = excluded.attempts,
			updated_at   = excluded.updated_at
	`, r.ArtifactID, r.ContentHash, r.Status, r.RemoteID, r.Revision, r.Attempts,
		r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert sync record %s: %w", r.ArtifactID, err)
	}
	return nil
}

func (s *Store) SyncRecord(artifactID string) (SyncRecord, error) {
	row := s.db.QueryRow(`
		SELECT artifact_id, content_hash, status, remote_id, revision, attempts, updated_at
		FROM sync_records WHERE artifact_id = ?
	`, artifactID)
	var r SyncRecord
	var updatedAt int64
	err := row.Scan(&r.ArtifactID, &r.ContentHash, &r.Status, &r.RemoteID,
		&r.Revision, &r.Attempts, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNoRecord
	}
	if err != nil {
		return r, fmt.Errorf("scan sync record: %w", err)
	}
	r.UpdatedAt = time.UnixMilli(updatedAt)
	return r, nil
}

// UnsyncedRecords returns records still owed to the remote: pending and
// failed, oldest first.
func (s *Store) UnsyncedRecords() ([]SyncRecord, error) {
	rows, err := s.db.Query(`
		SELECT artifact_id, content_hash, status, remote_id, revision, attempts, updated_at
		FROM sync_records WHERE status IN (?, ?) ORDER BY updated_at ASC
	`, SyncPending, SyncFailed)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}
	defer rows.Close()

	var out []SyncRecord
	for rows.Next() {
		var r SyncRecord
		var updatedAt int64
		if err := rows.Scan(&r.ArtifactID, &r.ContentHash, &r.Status, &r.RemoteID,
			&r.Revision, &r.Attempts, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		r.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Conflict preserves both versions of an artifact that diverged remotely.
type Conflict struct {
	ArtifactID    string
	LocalContent  string
	RemoteContent string
	DetectedAt    time.Time
}

func (s *Store) RecordConflict(c Conflict) error {
	_, err := s.db.Exec(`
		INSERT INTO conflicts (artifact_id, local_content, remote_content, detected_at)
		VALUES (?, ?, ?, ?)
	`, c.ArtifactID, c.LocalContent, c.RemoteContent, c.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record conflict %s: %w", c.ArtifactID, err)
	}
	return nil
}

func (s *Store) Conflicts(artifactID string) ([]Conflict, error) {
	rows, err := s.db.Query(`
		SELECT artifact_id, local_content, remote_content, detected_at
		FROM conflicts WHERE artifact_id = ? ORDER BY detected_at ASC
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		var detectedAt int64
		if err := rows.Scan(&c.ArtifactID, &c.LocalContent, &c.RemoteContent, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.DetectedAt = time.UnixMilli(detectedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
