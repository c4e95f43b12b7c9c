// Package transcript holds the per-date logs that transcription workers
// append to and summaries read from. Entries are kept ordered by segment
// start time regardless of worker completion order.
package transcript

import (
	"time"
)

// DateKey formats t's local date the way logs are keyed and files are named.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Entry is one transcribed segment.
type Entry struct {
	// Seq is the source segment's sequence number. Appends are idempotent
	// per Seq.
	Seq        uint64
	StartTime  time.Time
	Duration   time.Duration
	Text       string
	Confidence float64
}

// Line renders the entry in daily-transcript form: "[HH:MM:SS] text".
func (e Entry) Line() string {
	return "[" + e.StartTime.Format("15:04:05") + "] " + e.Text
}
