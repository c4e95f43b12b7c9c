package segment

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("segment: queue full")

// ErrQueueClosed is returned once the queue is closed and drained.
var ErrQueueClosed = errors.New("segment: queue closed")

// Queue is the bounded hand-off between the capture side and the
// transcription workers. Single producer, multiple consumers; FIFO order is
// fixed at enqueue time, so consumers see segments in start-time order.
type Queue struct {
	ch chan *Segment
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 2
	}
	return &Queue{ch: make(chan *Segment, capacity)}
}

// Enqueue blocks until space is available or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, s *Segment) error {
	select {
	case q.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue never blocks; a full queue yields ErrQueueFull.
func (q *Queue) TryEnqueue(s *Segment) error {
	select {
	case q.ch <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a segment is available, the queue closes, or ctx is
// done.
func (q *Queue) Dequeue(ctx context.Context) (*Segment, error) {
	select {
	case s, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the producer side. Consumers drain what remains, then get
// ErrQueueClosed.
func (q *Queue) Close() {
	close(q.ch)
}

// Drain empties the queue without blocking and returns the removed segments.
// Only valid once the producer has stopped.
func (q *Queue) Drain() []*Segment {
	var out []*Segment
	for {
		select {
		case s, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

// Depth reports how many segments are waiting.
func (q *Queue) Depth() int { return len(q.ch) }

// Cap reports the configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
