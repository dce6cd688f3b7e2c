package audio

import (
	"sync"
	"testing"
	"time"
)

func TestFrameQueueOrder(t *testing.T) {
	q, err := NewFrameQueue(4)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !q.Push(Frame{Samples: []int16{int16(i)}}, 0) {
			t.Fatalf("Push %d failed", i)
		}
	}

	for i := 0; i < 3; i++ {
		frame, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("Expected frame %d", i)
		}
		if frame.Samples[0] != int16(i) {
			t.Errorf("Expected frame %d, got %d", i, frame.Samples[0])
		}
	}

	if _, ok := q.Pop(10 * time.Millisecond); ok {
		t.Errorf("Expected timeout on empty queue")
	}
}

func TestFrameQueueBounded(t *testing.T) {
	q, _ := NewFrameQueue(2)

	if !q.Push(Frame{}, 0) || !q.Push(Frame{}, 0) {
		t.Fatalf("Expected first two pushes to succeed")
	}
	if q.Push(Frame{}, 0) {
		t.Errorf("Expected push on full queue to fail")
	}

	start := time.Now()
	if q.Push(Frame{}, 20*time.Millisecond) {
		t.Errorf("Expected waiting push to fail on full queue")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected push to wait for space, returned after %v", elapsed)
	}

	stats := q.GetStats()
	if stats.Depth != 2 || stats.Dropped != 2 || stats.Pushed != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if drained := q.Drain(); len(drained) != 2 {
		t.Errorf("Expected 2 drained frames, got %d", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Len())
	}
}

func TestFrameQueueConcurrentProducerConsumer(t *testing.T) {
	q, _ := NewFrameQueue(8)
	const total = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if !q.Push(Frame{Samples: []int16{int16(i)}}, time.Second) {
				t.Errorf("Push %d dropped", i)
				return
			}
		}
	}()

	for i := 0; i < total; i++ {
		frame, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("Timed out waiting for frame %d", i)
		}
		if frame.Samples[0] != int16(i) {
			t.Fatalf("Expected frame %d, got %d", i, frame.Samples[0])
		}
	}
	wg.Wait()
}

func TestFrameQueuePushWaitsForSpace(t *testing.T) {
	q, _ := NewFrameQueue(1)
	q.Push(Frame{Samples: []int16{1}}, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Pop(time.Second)
	}()

	if !q.Push(Frame{Samples: []int16{2}}, time.Second) {
		t.Fatal("Expected push to succeed once the consumer made room")
	}
	if stats := q.GetStats(); stats.Dropped != 0 {
		t.Errorf("Expected no drops, got %d", stats.Dropped)
	}
	frame, ok := q.Pop(time.Second)
	if !ok || frame.Samples[0] != 2 {
		t.Errorf("Expected second frame, got %+v (ok=%v)", frame, ok)
	}
}

func TestNewFrameQueueInvalid(t *testing.T) {
	if _, err := NewFrameQueue(0); err == nil {
		t.Errorf("Expected error for zero capacity")
	}
}
