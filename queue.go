package encoder

import (
	"context"
	"sync"
)

// BackpressurePolicy decides what Encoder.Enqueue does when the queue is full.
type BackpressurePolicy int

const (
	BackpressureBlock      BackpressurePolicy = iota // Wait for space or ctx
	BackpressureReject                               // Fail with ErrQueueFull
	BackpressureDropOldest                           // Evict the oldest queued frame
)

func (b BackpressurePolicy) String() string {
	switch b {
	case BackpressureBlock:
		return "block"
	case BackpressureReject:
		return "reject"
	case BackpressureDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParseBackpressurePolicy parses a policy name. Unknown names map to block.
func ParseBackpressurePolicy(s string) BackpressurePolicy {
	switch s {
	case "reject":
		return BackpressureReject
	case "drop-oldest", "drop_oldest":
		return BackpressureDropOldest
	default:
		return BackpressureBlock
	}
}

// DefaultQueueCapacity is used when Config.QueueCapacity is not positive.
const DefaultQueueCapacity = 8

// FrameQueue is a bounded FIFO of frames shared between producers and the
// encoder worker. All methods are safe for concurrent use.
//
// Blocking calls wake on data, on ctx cancellation and on Close.
type FrameQueue struct {
	items     chan *MediaFrame
	done      chan struct{}
	closeOnce sync.Once
	evictMu   sync.Mutex
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{
		items: make(chan *MediaFrame, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue adds f, blocking while the queue is full.
func (q *FrameQueue) Enqueue(ctx context.Context, f *MediaFrame) error {
	if q.Closed() {
		return ErrQueueClosed
	}
	select {
	case q.items <- f:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds f without blocking. It returns ErrQueueFull when the queue
// is at capacity.
func (q *FrameQueue) TryEnqueue(f *MediaFrame) error {
	if q.Closed() {
		return ErrQueueClosed
	}
	select {
	case q.items <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueDropOldest adds f, evicting queued frames from the head until it
// fits. It returns the evicted frames.
func (q *FrameQueue) EnqueueDropOldest(f *MediaFrame) ([]*MediaFrame, error) {
	q.evictMu.Lock()
	defer q.evictMu.Unlock()

	var dropped []*MediaFrame
	for {
		if q.Closed() {
			return dropped, ErrQueueClosed
		}
		select {
		case q.items <- f:
			return dropped, nil
		default:
		}
		select {
		case old := <-q.items:
			dropped = append(dropped, old)
		default:
		}
	}
}

// Dequeue removes the oldest frame, blocking until one is available, ctx is
// done or the queue is closed. Frames still queued at Close are not returned.
func (q *FrameQueue) Dequeue(ctx context.Context) (*MediaFrame, error) {
	if q.Closed() {
		return nil, ErrQueueClosed
	}
	select {
	case f := <-q.items:
		return f, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryDequeue removes the oldest frame without blocking.
func (q *FrameQueue) TryDequeue() (*MediaFrame, bool) {
	select {
	case f := <-q.items:
		return f, true
	default:
		return nil, false
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.items) }

// Close wakes all blocked callers. Subsequent enqueues fail with
// ErrQueueClosed.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *FrameQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Drain removes and returns every queued frame.
func (q *FrameQueue) Drain() []*MediaFrame {
	var out []*MediaFrame
	for {
		f, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}
