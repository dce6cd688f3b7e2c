package audio

import (
	"fmt"
	"sync/atomic"
	"time"
)

// FrameQueue is the bounded hand-off between the capture worker and the
// segmentation loop. It is safe for one producer and one consumer.
type FrameQueue struct {
	frames   chan Frame
	capacity int

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// QueueStats represents frame queue statistics
type QueueStats struct {
	Capacity int    `json:"capacity"`
	Depth    int    `json:"depth"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	return &FrameQueue{
		frames:   make(chan Frame, capacity),
		capacity: capacity,
	}, nil
}

// Push queues the frame, waiting at most timeout for space. A frame that
// still does not fit is dropped and false is returned.
func (q *FrameQueue) Push(frame Frame, timeout time.Duration) bool {
	select {
	case q.frames <- frame:
		q.pushed.Add(1)
		return true
	default:
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case q.frames <- frame:
			q.pushed.Add(1)
			return true
		case <-timer.C:
		}
	}

	q.dropped.Add(1)
	return false
}

// Pop waits at most timeout for a frame
func (q *FrameQueue) Pop(timeout time.Duration) (Frame, bool) {
	select {
	case frame := <-q.frames:
		q.popped.Add(1)
		return frame, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-q.frames:
		q.popped.Add(1)
		return frame, true
	case <-timer.C:
		return Frame{}, false
	}
}

// Drain removes and returns every frame currently queued
func (q *FrameQueue) Drain() []Frame {
	var frames []Frame
	for {
		select {
		case frame := <-q.frames:
			q.popped.Add(1)
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// GetStats returns current queue statistics
func (q *FrameQueue) GetStats() QueueStats {
	return QueueStats{
		Capacity: q.capacity,
		Depth:    len(q.frames),
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
		Dropped:  q.dropped.Load(),
	}
}
