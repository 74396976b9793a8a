package frame

import (
	"sync"
	"testing"
	"time"
)

func TestQueueReturnsLowestSequence(t *testing.T) {
	q := NewQueue()
	for _, seq := range []uint64{5, 2, 9, 1, 7} {
		q.Offer(Frame{Sequence: seq})
	}

	var got []uint64
	for q.Len() > 0 {
		f, ok := q.Poll(10 * time.Millisecond)
		if !ok {
			t.Fatal("Poll timed out on non-empty queue")
		}
		got = append(got, f.Sequence)
	}

	want := []uint64{1, 2, 5, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestQueuePollTimeout(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	_, ok := q.Poll(20 * time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Poll on empty queue returned a frame")
	}
	if elapsed < 15*time.Millisecond {
		t.Errorf("Poll returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestQueuePollWakesOnOffer(t *testing.T) {
	q := NewQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer(Frame{Sequence: 42})
	}()

	f, ok := q.Poll(time.Second)
	if !ok {
		t.Fatal("Poll timed out although a frame was offered")
	}
	if f.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", f.Sequence)
	}
}

func TestQueueOfferNonBlocking(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		q.Offer(Frame{Sequence: uint64(i + 1)})
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("1000 offers took %v", elapsed)
	}
	if q.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", q.Len())
	}
}

func TestQueueConcurrentProducerConsumer(t *testing.T) {
	q := NewQueue()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			q.Offer(Frame{Sequence: uint64(i)})
		}
	}()

	var last uint64
	received := 0
	deadline := time.Now().Add(5 * time.Second)
	for received < n && time.Now().Before(deadline) {
		f, ok := q.Poll(50 * time.Millisecond)
		if !ok {
			continue
		}
		if f.Sequence <= last {
			t.Fatalf("out of order: got %d after %d", f.Sequence, last)
		}
		last = f.Sequence
		received++
	}
	wg.Wait()

	if received != n {
		t.Errorf("received %d frames, want %d", received, n)
	}
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	q.Offer(Frame{Sequence: 1})
	q.Offer(Frame{Sequence: 2})

	if dropped := q.Clear(); dropped != 2 {
		t.Errorf("Clear dropped %d, want 2", dropped)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
	if _, ok := q.Poll(5 * time.Millisecond); ok {
		t.Error("Poll returned a frame after Clear")
	}
}

func TestBlankIsTransparent(t *testing.T) {
	f := Blank(4, 3, 7)
	if f.Sequence != 7 {
		t.Errorf("Sequence = %d", f.Sequence)
	}
	if f.Pixels.Bounds().Dx() != 4 || f.Pixels.Bounds().Dy() != 3 {
		t.Errorf("bounds = %v", f.Pixels.Bounds())
	}
	for _, b := range f.Pixels.Pix {
		if b != 0 {
			t.Fatal("blank frame has non-zero pixel data")
		}
	}
	if !f.Newer(6) || f.Newer(7) {
		t.Error("Newer comparison wrong")
	}
}
