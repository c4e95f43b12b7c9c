package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Log routes entries to per-date day logs, creating each day lazily from the
// entry's own start time. An entry landing after midnight goes to the date it
// was spoken on, not the date it finished transcribing.
type Log struct {
	mu   sync.Mutex
	days map[string]*dayLog

	// dir, when non-empty, receives one text file per date with the
	// rendered entries. Rewritten on append to keep ordering on disk.
	dir string
}

type dayLog struct {
	mu      sync.Mutex
	entries []Entry
	seqs    map[uint64]bool
}

func NewLog(dir string) *Log {
	return &Log{days: make(map[string]*dayLog), dir: dir}
}

func (l *Log) day(key string) *dayLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.days[key]
	if !ok {
		d = &dayLog{seqs: make(map[uint64]bool)}
		l.days[key] = d
	}
	return d
}

// Append inserts e into the log for its start date, keeping start-time order.
// Re-appending a Seq already present is a no-op, so recovery can replay
// without duplicating entries.
func (l *Log) Append(e Entry) error {
	key := DateKey(e.StartTime)
	d := l.day(key)

	d.mu.Lock()
	if d.seqs[e.Seq] {
		d.mu.Unlock()
		return nil
	}
	d.seqs[e.Seq] = true
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].StartTime.After(e.StartTime)
	})
	d.entries = append(d.entries, Entry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = e
	snapshot := make([]Entry, len(d.entries))
	copy(snapshot, d.entries)
	d.mu.Unlock()

	if l.dir != "" {
		if err := l.writeFile(key, snapshot); err != nil {
			return fmt.Errorf("transcript file %s: %w", key, err)
		}
	}
	return nil
}

// Snapshot returns a copy of the entries for date, in start-time order.
// Mutating the result does not affect the log.
func (l *Log) Snapshot(date string) []Entry {
	l.mu.Lock()
	d, ok := l.days[date]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Range returns entries with start <= StartTime < end across all dates the
// window touches, in start-time order.
func (l *Log) Range(start, end time.Time) []Entry {
	var out []Entry
	for t := start; t.Before(end) || DateKey(t) == DateKey(end); t = t.AddDate(0, 0, 1) {
		for _, e := range l.Snapshot(DateKey(t)) {
			if !e.StartTime.Before(start) && e.StartTime.Before(end) {
				out = append(out, e)
			}
		}
		if DateKey(t) == DateKey(end) {
			break
		}
	}
	return out
}

// Dates lists every date with at least one entry, sorted.
func (l *Log) Dates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.days))
	for k := range l.days {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len reports the entry count for date.
func (l *Log) Len(date string) int {
	l.mu.Lock()
	d, ok := l.days[date]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (l *Log) writeFile(date string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	path := filepath.Join(l.dir, date+".txt")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
