package frame

import (
	"sync"
	"time"

	pq "github.com/kyroy/priority-queue"
)

// Queue is a thread-safe hand-off ordered by Frame.Sequence.
//
// Offer never blocks. Poll waits up to a timeout and always returns the
// lowest sequence present, so a frame inserted late is still delivered in
// order (or dropped as stale by the consumer). Sequences are stored as
// float64 priorities; they stay exact below 2^53.
type Queue struct {
	mu    sync.Mutex
	items *pq.PriorityQueue
	// wake holds at most one pending signal for a waiting Poll.
	wake chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items: pq.NewPriorityQueue(),
		wake:  make(chan struct{}, 1),
	}
}

// Offer inserts a frame without blocking.
func (q *Queue) Offer(f Frame) {
	q.mu.Lock()
	q.items.Insert(f, float64(f.Sequence))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Poll returns the lowest-sequence frame, waiting up to timeout for one to
// arrive. ok is false on timeout.
func (q *Queue) Poll(timeout time.Duration) (f Frame, ok bool) {
	if f, ok = q.tryPop(); ok {
		return f, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.wake:
			if f, ok = q.tryPop(); ok {
				return f, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *Queue) tryPop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Frame{}, false
	}
	f, ok := q.items.PopLowest().(Frame)
	if !ok {
		return Frame{}, false
	}
	// Another frame may be waiting behind this one; keep the signal armed
	// so the next Poll does not sleep on a non-empty queue.
	if q.items.Len() > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return f, true
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear discards every queued frame and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	q.items = pq.NewPriorityQueue()
	return n
}
