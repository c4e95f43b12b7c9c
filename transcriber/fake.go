package transcriber

import (
	"context"
	"sync"
)

// Fake is a scripted engine for tests and the -fake-transcriber flag.
type Fake struct {
	mu    sync.Mutex
	text  string
	errs  []error // consumed one per call before success
	calls int
}

func NewFake(text string) *Fake {
	return &Fake{text: text}
}

// FailWith queues errors returned by the next calls, in order. Once drained,
// calls succeed again.
func (f *Fake) FailWith(errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Transcribe(ctx context.Context, _ []byte, _ string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return Result{}, err
	}
	return Result{Text: f.text, Confidence: 0.95}, nil
}
