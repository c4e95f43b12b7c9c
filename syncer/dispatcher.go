package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"scribed/control"
	"scribed/retry"
	"scribed/store"
)

// Records is the persistence the dispatcher needs. Satisfied by store.Store.
type Records interface {
	SyncRecord(artifactID string) (store.SyncRecord, error)
	UpsertSyncRecord(store.SyncRecord) error
	UnsyncedRecords() ([]store.SyncRecord, error)
	RecordConflict(store.Conflict) error
}

// LookupFunc resolves an artifact id back to its document name and content,
// for the periodic re-sync of pending and failed records.
type LookupFunc func(artifactID string) (name, content string, ok bool)

type DispatcherConfig struct {
	// Interval between periodic re-sync sweeps.
	Interval time.Duration
	// MaxAttempts per sync call, across which backoff applies.
	MaxAttempts int
}

// Dispatcher owns the sync state machine for every artifact: pending ->
// synced | failed | conflict. Failed artifacts stay queued and are retried on
// the periodic sweep.
type Dispatcher struct {
	cfg     DispatcherConfig
	backend Backend
	records Records
	lookup  LookupFunc
	plane   *control.Plane
	policy  retry.Policy
	now     func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, backend Backend, records Records, lookup LookupFunc, plane *control.Plane) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Dispatcher{
		cfg:     cfg,
		backend: backend,
		records: records,
		lookup:  lookup,
		plane:   plane,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Multiplier:     2,
			RetryIf:        func(err error) bool { return !errors.Is(err, ErrConflict) },
		},
		now: time.Now,
	}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Sync pushes one artifact. Idempotent: an artifact already synced with the
// same content hash is a no-op. Returns the resulting record; a conflict is
// not an error here, it is a recorded terminal state for manual resolution.
func (d *Dispatcher) Sync(ctx context.Context, artifactID, name, content string) (store.SyncRecord, error) {
	hash := contentHash(content)

	rec, err := d.records.SyncRecord(artifactID)
	switch {
	case errors.Is(err, store.ErrNoRecord):
		rec = store.SyncRecord{ArtifactID: artifactID, Status: store.SyncPending}
	case err != nil:
		return store.SyncRecord{}, err
	case rec.Status == store.SyncSynced && rec.ContentHash == hash:
		return rec, nil
	case rec.Status == store.SyncConflict:
		// Conflicts wait for manual resolution; re-syncing would clobber.
		return rec, nil
	}

	rec.ContentHash = hash

	var remote Remote
	err = d.policy.Do(ctx, func(ctx context.Context) error {
		var uerr error
		remote, uerr = d.backend.Upsert(ctx, name, content, rec.RemoteID, rec.Revision)
		return uerr
	})
	rec.Attempts++
	rec.UpdatedAt = d.now()

	switch {
	case err == nil:
		rec.Status = store.SyncSynced
		rec.RemoteID = remote.ID
		rec.Revision = remote.Revision
		rec.Attempts = 0
	case errors.Is(err, ErrConflict):
		rec.Status = store.SyncConflict
		if cerr := d.recordConflict(ctx, rec, content); cerr != nil {
			return rec, cerr
		}
	default:
		rec.Status = store.SyncFailed
	}

	if uerr := d.records.UpsertSyncRecord(rec); uerr != nil {
		return rec, uerr
	}
	if err != nil && !errors.Is(err, ErrConflict) {
		return rec, fmt.Errorf("sync %s: %w", artifactID, err)
	}
	return rec, nil
}

func (d *Dispatcher) recordConflict(ctx context.Context, rec store.SyncRecord, local string) error {
	remoteContent, _, err := d.backend.Fetch(ctx, rec.RemoteID)
	if err != nil {
		remoteContent = fmt.Sprintf("(fetch failed: %v)", err)
	}
	return d.records.RecordConflict(store.Conflict{
		ArtifactID:    rec.ArtifactID,
		LocalContent:  local,
		RemoteContent: remoteContent,
		DetectedAt:    d.now(),
	})
}

// Resync sweeps pending and failed records once.
func (d *Dispatcher) Resync(ctx context.Context) error {
	records, err := d.records.UnsyncedRecords()
	if err != nil {
		return err
	}
	for _, rec := range records {
		name, content, ok := d.lookup(rec.ArtifactID)
		if !ok {
			continue
		}
		if _, err := d.Sync(ctx, rec.ArtifactID, name, content); err != nil {
			// Keep sweeping; the record stays queued for next time.
			continue
		}
	}
	return nil
}

// Run re-syncs on the configured interval until shutdown. Pause suspends the
// sweep.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.plane.Wait(ctx); err != nil {
				if errors.Is(err, control.ErrShutdown) {
					return nil
				}
				return err
			}
			_ = d.Resync(ctx)
		case <-d.plane.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
