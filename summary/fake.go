package summary

import (
	"context"
	"sync"
)

// FakeSummarizer returns scripted output for tests and the -fake-summarizer
// flag.
type FakeSummarizer struct {
	mu     sync.Mutex
	output string
	errs   []error
	calls  int
	inputs []string
}

func NewFakeSummarizer(output string) *FakeSummarizer {
	return &FakeSummarizer{output: output}
}

// FailWith queues errors for the next calls, in order.
func (f *FakeSummarizer) FailWith(errs ...error) *FakeSummarizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

func (f *FakeSummarizer) Name() string { return "fake" }

func (f *FakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastInput returns the transcript text passed to the most recent call.
func (f *FakeSummarizer) LastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return ""
	}
	return f.inputs[len(f.inputs)-1]
}

func (f *FakeSummarizer) Summarize(ctx context.Context, transcript string, _ Kind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, transcript)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.output, nil
}
