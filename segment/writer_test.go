package segment

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribed/encoder"
)

func tonePCM(seconds float64) []byte {
	n := int(seconds * encoder.SampleRate)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := 0.5 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

func silencePCM(seconds float64) []byte {
	return make([]byte, int(seconds*encoder.SampleRate)*2)
}

func testWriter(t *testing.T, cfg WriterConfig) *Writer {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	return NewWriter(cfg)
}

func feedAll(t *testing.T, w *Writer, pcm []byte, now time.Time) []*Segment {
	t.Helper()
	segs, err := w.Feed(pcm, now)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	return segs
}

func TestWriterFinalizesOnTrailingSilence(t *testing.T) {
	w := testWriter(t, WriterConfig{
		MaxDuration:   60 * time.Second,
		SilenceCutoff: 2 * time.Second,
		MinDuration:   time.Second,
	})

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	segs := feedAll(t, w, tonePCM(4), start)
	if len(segs) != 0 {
		t.Fatalf("finalized %d segments during speech", len(segs))
	}

	segs = feedAll(t, w, silencePCM(3), start.Add(4*time.Second))
	if len(segs) != 1 {
		t.Fatalf("finalized %d segments after silence, want 1", len(segs))
	}

	seg := segs[0]
	if seg.Reason != ReasonSilence {
		t.Errorf("Reason = %v, want silence", seg.Reason)
	}
	if !seg.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", seg.StartTime, start)
	}
	if seg.Duration < 5*time.Second || seg.Duration > 7*time.Second {
		t.Errorf("Duration = %v, want ~6s", seg.Duration)
	}
	if seg.VoicedRatio < 0.5 {
		t.Errorf("VoicedRatio = %v, want > 0.5", seg.VoicedRatio)
	}

	data, err := os.ReadFile(seg.Path)
	if err != nil {
		t.Fatalf("segment file: %v", err)
	}
	if string(data[:4]) != "fLaC" {
		t.Error("segment file is not FLAC")
	}
}

func TestWriterFinalizesOnMaxDuration(t *testing.T) {
	w := testWriter(t, WriterConfig{
		MaxDuration:   2 * time.Second,
		SilenceCutoff: 10 * time.Second,
		MinDuration:   time.Second,
	})

	start := time.Unix(1700000000, 0).UTC()
	segs := feedAll(t, w, tonePCM(5), start)
	if len(segs) != 2 {
		t.Fatalf("finalized %d segments, want 2", len(segs))
	}
	for i, seg := range segs {
		if seg.Reason != ReasonMaxDuration {
			t.Errorf("segment %d Reason = %v, want max_duration", i, seg.Reason)
		}
	}
	if segs[0].Seq+1 != segs[1].Seq {
		t.Errorf("sequence numbers %d, %d not consecutive", segs[0].Seq, segs[1].Seq)
	}
	wantSecond := start.Add(segs[0].Duration)
	if !segs[1].StartTime.Equal(wantSecond) {
		t.Errorf("second StartTime = %v, want %v", segs[1].StartTime, wantSecond)
	}
}

func TestWriterDiscardsAllSilence(t *testing.T) {
	dir := t.TempDir()
	w := testWriter(t, WriterConfig{
		Dir:           dir,
		MaxDuration:   3 * time.Second,
		SilenceCutoff: 2 * time.Second,
		MinDuration:   time.Second,
	})

	segs := feedAll(t, w, silencePCM(10), time.Now())
	if len(segs) != 0 {
		t.Fatalf("finalized %d segments from pure silence", len(segs))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("silence produced %d files", len(entries))
	}
}

func TestWriterDiscardsBelowVoicedRatio(t *testing.T) {
	w := testWriter(t, WriterConfig{
		MaxDuration:    4 * time.Second,
		SilenceCutoff:  60 * time.Second, // only max-duration can fire
		MinDuration:    time.Second,
		MinVoicedRatio: 0.5,
	})

	// 0.5s of speech inside 4s: ratio ~0.125, below the 0.5 gate.
	pcm := append(tonePCM(0.5), silencePCM(4)...)
	segs := feedAll(t, w, pcm, time.Now())
	if len(segs) != 0 {
		t.Fatalf("finalized %d segments, want discard", len(segs))
	}
	if w.Discarded() != 1 {
		t.Errorf("Discarded = %d, want 1", w.Discarded())
	}
}

func TestWriterDiscardsBelowMinDuration(t *testing.T) {
	w := testWriter(t, WriterConfig{
		MaxDuration:   60 * time.Second,
		SilenceCutoff: 10 * time.Second,
		MinDuration:   3 * time.Second,
	})

	feedAll(t, w, tonePCM(1), time.Now())
	seg, err := w.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if seg != nil {
		t.Fatalf("Flush returned %+v, want discard below min duration", seg)
	}
	if w.Discarded() != 1 {
		t.Errorf("Discarded = %d, want 1", w.Discarded())
	}
}

func TestWriterFlush(t *testing.T) {
	w := testWriter(t, WriterConfig{
		MaxDuration:   60 * time.Second,
		SilenceCutoff: 10 * time.Second,
		MinDuration:   time.Second,
	})

	feedAll(t, w, tonePCM(4), time.Now())
	seg, err := w.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if seg == nil {
		t.Fatal("Flush returned nil with buffered speech")
	}
	if seg.Reason != ReasonFlush {
		t.Errorf("Reason = %v, want flush", seg.Reason)
	}

	// Empty buffer flushes to nothing.
	seg, err = w.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if seg != nil {
		t.Fatalf("second Flush returned %+v, want nil", seg)
	}
}

func TestWriterSeqSeed(t *testing.T) {
	w := testWriter(t, WriterConfig{
		NextSeq:       42,
		MaxDuration:   60 * time.Second,
		SilenceCutoff: 10 * time.Second,
		MinDuration:   time.Second,
	})
	feedAll(t, w, tonePCM(3), time.Now())
	seg, err := w.Flush()
	if err != nil || seg == nil {
		t.Fatalf("Flush = %v, %v", seg, err)
	}
	if seg.Seq != 42 {
		t.Errorf("Seq = %d, want 42", seg.Seq)
	}
	if w.NextSeq() != 43 {
		t.Errorf("NextSeq = %d, want 43", w.NextSeq())
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 30, 15, 0, time.UTC)
	got := Filename(7, at)
	want := "segment_000007_20250310T093015.flac"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
	if filepath.Ext(got) != ".flac" {
		t.Error("missing .flac extension")
	}
}

func TestWriterReturnsSegmentsFinalizedBeforeEncodeError(t *testing.T) {
	dir := t.TempDir()
	w := testWriter(t, WriterConfig{
		Dir:           dir,
		MaxDuration:   time.Second,
		SilenceCutoff: 10 * time.Second,
		MinDuration:   time.Second,
	})

	// A directory where the second segment's temp file would go makes its
	// encode fail after the first segment already landed.
	start := time.Unix(1700000000, 0).UTC()
	blocked := filepath.Join(dir, Filename(2, start.Add(time.Second))+".tmp")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatal(err)
	}

	segs, err := w.Feed(tonePCM(2.5), start)
	if err == nil {
		t.Fatal("Feed succeeded with the encode path blocked")
	}
	if len(segs) != 1 {
		t.Fatalf("returned %d segments alongside the error, want 1", len(segs))
	}
	if segs[0].Seq != 1 {
		t.Errorf("Seq = %d, want 1", segs[0].Seq)
	}
	if _, err := os.Stat(segs[0].Path); err != nil {
		t.Errorf("first segment file: %v", err)
	}
}
