package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribed/retry"
	"scribed/transcript"
)

// EmptyContent is the sentinel body stored for periods with no transcript
// activity.
const EmptyContent = "No activity recorded for this period."

// EntrySource yields the transcript entries inside a window. Satisfied by
// transcript.Log.
type EntrySource interface {
	Range(start, end time.Time) []transcript.Entry
}

// Sink persists generated summaries. Satisfied by store.Store.
type Sink interface {
	SaveSummary(Summary) error
}

// Builder assembles the transcript for a period, runs the summarizer with
// retries, and persists exactly one artifact per successful build.
type Builder struct {
	source     EntrySource
	sink       Sink
	summarizer Summarizer
	policy     retry.Policy
	timeout    time.Duration
	now        func() time.Time
}

func NewBuilder(source EntrySource, sink Sink, summarizer Summarizer, policy retry.Policy, timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	policy.RetryIf = func(err error) bool {
		return !errors.Is(err, ErrAuthError)
	}
	return &Builder{
		source:     source,
		sink:       sink,
		summarizer: summarizer,
		policy:     policy,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Build summarizes [start, end). An empty period yields the sentinel summary
// rather than nothing, so a quiet hour is distinguishable from a failed one.
func (b *Builder) Build(ctx context.Context, start, end time.Time, kind Kind) (Summary, error) {
	entries := b.source.Range(start, end)

	sum := Summary{
		ID:          newID(),
		Kind:        kind,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   b.now(),
	}

	if len(entries) == 0 {
		sum.Empty = true
		sum.Content = EmptyContent
		if err := b.sink.SaveSummary(sum); err != nil {
			return Summary{}, fmt.Errorf("save empty summary: %w", err)
		}
		return sum, nil
	}

	var text strings.Builder
	for _, e := range entries {
		text.WriteString(e.Line())
		text.WriteByte('\n')
	}

	var content string
	err := b.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		var err error
		content, err = b.summarizer.Summarize(callCtx, text.String(), kind)
		return err
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summarize %s %s: %w", kind, start.Format("2006-01-02 15:04"), err)
	}

	sum.Content = content
	sum.FirstSeq = entries[0].Seq
	sum.LastSeq = entries[len(entries)-1].Seq
	if err := b.sink.SaveSummary(sum); err != nil {
		return Summary{}, fmt.Errorf("save summary: %w", err)
	}
	return sum, nil
}
