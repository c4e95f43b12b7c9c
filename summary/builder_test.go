package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scribed/retry"
	"scribed/transcript"
)

type memSink struct {
	mu    sync.Mutex
	saved []Summary
}

func (m *memSink) SaveSummary(s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

func (m *memSink) all() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Summary(nil), m.saved...)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func window() (time.Time, time.Time) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func logWith(entries ...transcript.Entry) *transcript.Log {
	l := transcript.NewLog("")
	for _, e := range entries {
		l.Append(e)
	}
	return l
}

func TestBuildSummarizesEntries(t *testing.T) {
	start, end := window()
	l := logWith(
		transcript.Entry{Seq: 4, StartTime: start.Add(10 * time.Minute), Text: "first thing"},
		transcript.Entry{Seq: 7, StartTime: start.Add(40 * time.Minute), Text: "second thing"},
	)
	sink := &memSink{}
	fake := NewFakeSummarizer("the hour in brief")
	b := NewBuilder(l, sink, fake, fastPolicy(), time.Minute)

	sum, err := b.Build(context.Background(), start, end, KindHourly)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.Content != "the hour in brief" {
		t.Errorf("Content = %q", sum.Content)
	}
	if sum.Empty {
		t.Error("Empty = true for active period")
	}
	if sum.FirstSeq != 4 || sum.LastSeq != 7 {
		t.Errorf("seq bounds = %d..%d, want 4..7", sum.FirstSeq, sum.LastSeq)
	}
	if sum.ID == "" {
		t.Error("ID not assigned")
	}

	// The summarizer sees rendered transcript lines.
	input := fake.LastInput()
	if !strings.Contains(input, "[09:10:00] first thing") {
		t.Errorf("summarizer input = %q", input)
	}

	saved := sink.all()
	if len(saved) != 1 {
		t.Fatalf("saved %d summaries, want 1", len(saved))
	}
}

func TestBuildEmptyPeriodYieldsSentinel(t *testing.T) {
	start, end := window()
	sink := &memSink{}
	fake := NewFakeSummarizer("unused")
	b := NewBuilder(logWith(), sink, fake, fastPolicy(), time.Minute)

	sum, err := b.Build(context.Background(), start, end, KindHourly)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !sum.Empty {
		t.Error("Empty = false for quiet period")
	}
	if sum.Content != EmptyContent {
		t.Errorf("Content = %q", sum.Content)
	}
	if fake.Calls() != 0 {
		t.Errorf("summarizer called %d times for empty period", fake.Calls())
	}
	if len(sink.all()) != 1 {
		t.Fatal("sentinel summary not persisted")
	}
}

func TestBuildRetriesThenSucceedsOnce(t *testing.T) {
	start, end := window()
	l := logWith(transcript.Entry{Seq: 1, StartTime: start.Add(time.Minute), Text: "hi"})
	sink := &memSink{}
	fake := NewFakeSummarizer("done").FailWith(ErrRateLimited, ErrRateLimited)
	b := NewBuilder(l, sink, fake, fastPolicy(), time.Minute)

	sum, err := b.Build(context.Background(), start, end, KindHourly)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.Content != "done" {
		t.Errorf("Content = %q", sum.Content)
	}
	if fake.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", fake.Calls())
	}
	// Exactly one artifact despite two failed attempts.
	if len(sink.all()) != 1 {
		t.Fatalf("saved %d summaries, want 1", len(sink.all()))
	}
}

func TestBuildExhaustedRetriesSavesNothing(t *testing.T) {
	start, end := window()
	l := logWith(transcript.Entry{Seq: 1, StartTime: start.Add(time.Minute), Text: "hi"})
	sink := &memSink{}
	fake := NewFakeSummarizer("x").FailWith(ErrRateLimited, ErrRateLimited, ErrRateLimited)
	b := NewBuilder(l, sink, fake, fastPolicy(), time.Minute)

	if _, err := b.Build(context.Background(), start, end, KindHourly); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Build = %v, want ErrRateLimited", err)
	}
	if len(sink.all()) != 0 {
		t.Errorf("saved %d summaries after failure, want 0", len(sink.all()))
	}
}

func TestBuildAuthErrorNotRetried(t *testing.T) {
	start, end := window()
	l := logWith(transcript.Entry{Seq: 1, StartTime: start.Add(time.Minute), Text: "hi"})
	fake := NewFakeSummarizer("x").FailWith(ErrAuthError)
	b := NewBuilder(l, &memSink{}, fake, fastPolicy(), time.Minute)

	if _, err := b.Build(context.Background(), start, end, KindHourly); !errors.Is(err, ErrAuthError) {
		t.Fatalf("Build = %v, want ErrAuthError", err)
	}
	if fake.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", fake.Calls())
	}
}

func TestArtifactIDStableAcrossRebuilds(t *testing.T) {
	start, end := window()
	a := Summary{Kind: KindHourly, PeriodStart: start, PeriodEnd: end, ID: "x"}
	b := Summary{Kind: KindHourly, PeriodStart: start, PeriodEnd: end, ID: "y"}
	if a.ArtifactID() != b.ArtifactID() {
		t.Errorf("ArtifactID differs: %q vs %q", a.ArtifactID(), b.ArtifactID())
	}
	if a.ArtifactID() != "hourly_20250310T0900" {
		t.Errorf("ArtifactID = %q", a.ArtifactID())
	}
}
