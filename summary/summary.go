// Package summary builds AI summaries over windows of transcript entries and
// schedules nothing itself; the sched package decides when a period closes.
package summary

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the period shape a summary covers.
type Kind string

const (
	KindHourly Kind = "hourly"
	KindDaily  Kind = "daily"
	KindManual Kind = "manual"
)

// ErrRateLimited marks a provider 429. Retried with backoff.
var ErrRateLimited = errors.New("summary: rate limited")

// ErrAuthError marks a credential failure. Never retried.
var ErrAuthError = errors.New("summary: authentication failed")

// Summary is a generated artifact for one period. An Empty summary is the
// sentinel for periods with no transcript activity; it is stored and synced
// like any other so consumers can tell "nothing happened" from "summary
// failed".
type Summary struct {
	ID          string
	Kind        Kind
	PeriodStart time.Time
	PeriodEnd   time.Time
	Content     string
	Empty       bool
	// FirstSeq and LastSeq bound the transcript entries the summary covers.
	// Both zero when Empty.
	FirstSeq  uint64
	LastSeq   uint64
	CreatedAt time.Time
}

// ArtifactID names the summary for idempotent sync. Derived from period, not
// from the random ID, so a regenerated summary maps to the same remote
// document.
func (s Summary) ArtifactID() string {
	return string(s.Kind) + "_" + s.PeriodStart.UTC().Format("20060102T1504")
}

func newID() string { return uuid.NewString() }
