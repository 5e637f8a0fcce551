package wakeword

import (
	"context"
	"errors"
	"sync"

	"github.com/haivivi/wakeword/pkg/audio/pcm"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("wakeword: queue closed")

// Queue is the bounded frame queue between the capture loop and the
// consumer loop. Push never blocks: when the queue is full the oldest
// frame is evicted and counted.
type Queue struct {
	notify chan struct{}
	space  chan struct{}

	mu      sync.Mutex
	buf     []pcm.Frame
	head    int
	n       int
	dropped uint64
	closed  bool
}

// NewQueue creates a queue holding up to capacity frames.
func NewQueue(capacity int) *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		buf:    make([]pcm.Frame, max(capacity, 1)),
	}
}

// Push appends f. It returns true when an older frame was evicted to make
// room. Frames pushed after Close are discarded.
func (q *Queue) Push(f pcm.Frame) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	if q.n == len(q.buf) {
		q.buf[q.head] = pcm.Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		evicted = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// PushWait appends f, waiting while the queue is full. It is for offline
// replay, where every frame must be scored; live capture uses Push.
func (q *Queue) PushWait(ctx context.Context, f pcm.Frame) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.n < len(q.buf) {
			q.buf[(q.head+q.n)%len(q.buf)] = f
			q.n++
			q.mu.Unlock()
			select {
			case q.notify <- struct{}{}:
			default:
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes and returns the oldest frame, waiting until one is
// available. It fails with ErrQueueClosed once the queue is closed and
// drained, or with ctx.Err().
func (q *Queue) Pop(ctx context.Context) (pcm.Frame, error) {
	for {
		q.mu.Lock()
		if q.n > 0 {
			f := q.buf[q.head]
			q.buf[q.head] = pcm.Frame{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.mu.Unlock()
			select {
			case q.space <- struct{}{}:
			default:
			}
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return pcm.Frame{}, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return pcm.Frame{}, ctx.Err()
		}
	}
}

// Close stops accepting frames. Frames already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Dropped returns the total number of evicted frames. It never decreases.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
