package encoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func frameAt(ts int64) *MediaFrame {
	return &MediaFrame{Timestamp: ts}
}

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue(4)
	for i := int64(0); i < 4; i++ {
		if err := q.TryEnqueue(frameAt(i)); err != nil {
			t.Fatalf("TryEnqueue(%d) error = %v", i, err)
		}
	}
	if q.Len() != 4 || q.Cap() != 4 {
		t.Fatalf("Len/Cap = %d/%d, want 4/4", q.Len(), q.Cap())
	}

	for i := int64(0); i < 4; i++ {
		f, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if f.Timestamp != i {
			t.Errorf("Dequeue() = %d, want %d", f.Timestamp, i)
		}
	}
}

func TestFrameQueue_DefaultCapacity(t *testing.T) {
	if got := NewFrameQueue(0).Cap(); got != DefaultQueueCapacity {
		t.Errorf("Cap() = %d, want %d", got, DefaultQueueCapacity)
	}
}

func TestFrameQueue_TryEnqueueFull(t *testing.T) {
	q := NewFrameQueue(1)
	if err := q.TryEnqueue(frameAt(0)); err != nil {
		t.Fatalf("TryEnqueue() error = %v", err)
	}
	if err := q.TryEnqueue(frameAt(1)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("TryEnqueue() on full queue error = %v, want ErrQueueFull", err)
	}
}

func TestFrameQueue_EnqueueBlocksUntilSpace(t *testing.T) {
	q := NewFrameQueue(1)
	q.TryEnqueue(frameAt(0))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), frameAt(1))
	}()

	select {
	case err := <-done:
		t.Fatalf("Enqueue() returned %v before space was available", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Enqueue() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue() did not unblock")
	}
}

func TestFrameQueue_EnqueueContextCancel(t *testing.T) {
	q := NewFrameQueue(1)
	q.TryEnqueue(frameAt(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, frameAt(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue() error = %v, want DeadlineExceeded", err)
	}
}

func TestFrameQueue_DropOldest(t *testing.T) {
	q := NewFrameQueue(2)
	q.TryEnqueue(frameAt(0))
	q.TryEnqueue(frameAt(1))

	dropped, err := q.EnqueueDropOldest(frameAt(2))
	if err != nil {
		t.Fatalf("EnqueueDropOldest() error = %v", err)
	}
	if len(dropped) != 1 || dropped[0].Timestamp != 0 {
		t.Fatalf("dropped = %v, want frame 0", dropped)
	}

	got := q.Drain()
	if len(got) != 2 || got[0].Timestamp != 1 || got[1].Timestamp != 2 {
		t.Errorf("Drain() = %v, want frames 1, 2", got)
	}
}

func TestFrameQueue_CloseWakesWaiters(t *testing.T) {
	q := NewFrameQueue(1)
	q.TryEnqueue(frameAt(0))

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- q.Enqueue(context.Background(), frameAt(1))
	}()

	empty := NewFrameQueue(1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := empty.Dequeue(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	empty.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("blocked call error = %v, want ErrQueueClosed", err)
		}
	}
}

func TestFrameQueue_ClosedRejects(t *testing.T) {
	q := NewFrameQueue(2)
	q.TryEnqueue(frameAt(0))
	q.Close()
	q.Close()

	if !q.Closed() {
		t.Fatal("Closed() = false after Close")
	}
	if err := q.TryEnqueue(frameAt(1)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("TryEnqueue() error = %v, want ErrQueueClosed", err)
	}
	if _, err := q.EnqueueDropOldest(frameAt(1)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("EnqueueDropOldest() error = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Dequeue() error = %v, want ErrQueueClosed", err)
	}
	if got := q.Drain(); len(got) != 1 {
		t.Errorf("Drain() after Close = %d frames, want 1", len(got))
	}
}

func TestFrameQueue_ConcurrentProducers(t *testing.T) {
	q := NewFrameQueue(4)
	const producers, perProducer = 4, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue(context.Background(), frameAt(int64(i))); err != nil {
					t.Errorf("Enqueue() error = %v", err)
					return
				}
			}
		}()
	}

	received := 0
	for received < producers*perProducer {
		if _, err := q.Dequeue(context.Background()); err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		received++
	}
	wg.Wait()
}

func TestParseBackpressurePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want BackpressurePolicy
	}{
		{"block", BackpressureBlock},
		{"", BackpressureBlock},
		{"reject", BackpressureReject},
		{"drop-oldest", BackpressureDropOldest},
		{"drop_oldest", BackpressureDropOldest},
		{"bogus", BackpressureBlock},
	}
	for _, tt := range tests {
		if got := ParseBackpressurePolicy(tt.in); got != tt.want {
			t.Errorf("ParseBackpressurePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
