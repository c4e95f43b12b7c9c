// Package segment slices the continuous capture stream into bounded audio
// segments and hands them to transcription through a bounded queue.
package segment

import (
	"fmt"
	"time"
)

// Reason records why a segment was finalized.
type Reason int

const (
	ReasonMaxDuration Reason = iota
	ReasonSilence
	ReasonFlush
)

func (r Reason) String() string {
	switch r {
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonSilence:
		return "silence"
	case ReasonFlush:
		return "flush"
	}
	return "unknown"
}

// Segment is a finalized slice of captured audio, encoded to a FLAC file on
// disk. The queue owns it until a worker consumes it; after successful
// transcription (or dead-lettering) the audio file is released by retention,
// not by the pipeline.
type Segment struct {
	// Seq is a monotonic sequence number, unique within a process run and
	// continued across restarts by recovery.
	Seq         uint64
	StartTime   time.Time
	Duration    time.Duration
	Path        string
	VoicedRatio float64
	Reason      Reason
}

// Filename is the on-disk name for a segment with the given sequence number
// and start time.
func Filename(seq uint64, start time.Time) string {
	return fmt.Sprintf("segment_%06d_%s.flac", seq, start.Format("20060102T150405"))
}
