// Package syncer pushes summary artifacts to an external document store.
// Sync is idempotent per artifact and conflict-preserving: a remote edit is
// never overwritten, both versions are kept for manual resolution.
package syncer

import (
	"context"
	"errors"
)

// ErrConflict reports that the remote document changed since the revision we
// last wrote.
var ErrConflict = errors.New("syncer: remote modified")

// Remote identifies a document in the backend.
type Remote struct {
	ID       string
	Revision string
}

// Backend is a remote document store. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	// Upsert writes content under name. An empty remoteID creates a new
	// document. A non-empty baseRevision that no longer matches the remote
	// head fails with ErrConflict without writing.
	Upsert(ctx context.Context, name, content, remoteID, baseRevision string) (Remote, error)
	// Fetch reads the current remote content and revision.
	Fetch(ctx context.Context, remoteID string) (content string, revision string, err error)
}
