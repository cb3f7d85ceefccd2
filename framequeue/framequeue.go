// Package framequeue implements the bounded, blocking handoff between
// the modulator thread and the Transmitter thread: push blocks the
// producer under backpressure, pop blocks the consumer until a
// prebuffer target is met.
package framequeue

import (
	"fmt"
	"sync"

	"github.com/cwsl/dabmod/sample"
)

// MaxDepth is the queue's maximum length: a compile-time constant
// chosen to tolerate short scheduling jitter without accumulating
// latency.
const MaxDepth = 8

// Queue is a bounded FIFO of sample.Frame envelopes, built on
// sync.Cond rather than a raw channel so WaitPop's prebuffer
// threshold can be checked without a busy loop.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items       []sample.Frame
	frameLen    int // sample-buffer length shared by every frame in this run
	frameLenSet bool

	closed bool
}

// New builds an empty Queue.
func New() *Queue {
	q := &Queue{}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// PushWait appends f to the queue, blocking the caller while the
// queue is at MaxDepth (backpressure toward the modulator). It
// returns an error if every frame in a run does not share the same
// sample-buffer length, or if the queue has been
// closed.
func (q *Queue) PushWait(f sample.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errClosed
	}

	if !q.frameLenSet {
		q.frameLen = len(f.Samples)
		q.frameLenSet = true
	} else if len(f.Samples) != q.frameLen {
		return &FrameLengthError{Want: q.frameLen, Got: len(f.Samples)}
	}

	for len(q.items) >= MaxDepth && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return errClosed
	}

	q.items = append(q.items, f)
	q.notEmpty.Signal()
	return nil
}

// WaitPop blocks until at least prebuffer frames are queued, then
// returns the oldest one. A prebuffer of 1 behaves like a plain
// blocking pop; larger values give the Transmitter a runway after
// cold start or underrun re-engages prebuffering.
func (q *Queue) WaitPop(prebuffer int) (sample.Frame, bool) {
	if prebuffer < 1 {
		prebuffer = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) < prebuffer && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return sample.Frame{}, false
	}

	f := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return f, true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks any waiting producer/consumer; subsequent PushWait
// calls fail and WaitPop drains remaining items before returning
// false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// FrameLengthError reports a sample-buffer length change mid-run,
// treated as a fatal condition.
type FrameLengthError struct {
	Want, Got int
}

func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("framequeue: frame sample-buffer length changed mid-run: want %d, got %d", e.Want, e.Got)
}

type closedError struct{}

func (closedError) Error() string { return "framequeue: queue is closed" }

var errClosed = closedError{}
