package main

import (
	"os"
	"time"

	"scribed/log"
	"scribed/transcript"
)

const lookbackOnStart = 30 * 24 * time.Hour

// recover restores state from the previous run: segments that were captured
// but never transcribed go back on the queue, recent entries are reloaded so
// summaries over periods spanning the restart see them, and the sequence
// counter continues from where it left off. Returns the next sequence number.
func (d *Daemon) recover() (uint64, error) {
	maxSeq, err := d.db.MaxSeq()
	if err != nil {
		return 0, err
	}

	pending, err := d.db.PendingSegments()
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, seg := range pending {
		if _, err := os.Stat(seg.Path); err != nil {
			// Audio file is gone; nothing left to transcribe.
			d.db.RemovePendingSegment(seg.Seq)
			continue
		}
		// Fill the queue; the rest goes to the backlog, fed in as workers
		// drain so every persisted segment is retried this run.
		if err := d.queue.TryEnqueue(seg); err != nil {
			d.backlog = append(d.backlog, seg)
			continue
		}
		requeued++
	}
	requeued += len(d.backlog)

	reloaded := 0
	for day := 0; ; day++ {
		date := transcript.DateKey(time.Now().AddDate(0, 0, -day))
		entries, err := d.db.EntriesByDate(date)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if err := d.logbook.Append(e); err != nil {
				return 0, err
			}
			reloaded++
		}
		if time.Duration(day+1)*24*time.Hour > lookbackOnStart {
			break
		}
	}

	if requeued > 0 || reloaded > 0 {
		log.Infof("recovery: requeued %d segments, reloaded %d entries", requeued, reloaded)
	}
	return maxSeq + 1, nil
}
