package voice

import (
	"sync"

	log "log/slog"

	"aegis/internal/observe"
)

// FrameQueue is the bounded FIFO between capture and detection.
//
// Overflow policy is drop-oldest: when full, the oldest frame is discarded
// so the newest audio (the part that may contain a wake phrase) is kept and
// the capture goroutine never blocks. Every drop is counted and logged.
type FrameQueue struct {
	mu      sync.Mutex
	ch      chan AudioFrame
	closed  bool
	dropped uint64
	metrics *observe.Metrics
}

// NewFrameQueue returns a queue holding at most capacity frames.
func NewFrameQueue(capacity int, metrics *observe.Metrics) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch:      make(chan AudioFrame, capacity),
		metrics: metrics,
	}
}

// Push enqueues f, evicting the oldest frame if the queue is full. It
// reports whether a frame was dropped. Push after Close is a no-op.
func (q *FrameQueue) Push(f AudioFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- f:
		return false
	default:
	}

	// Full. Only the consumer removes concurrently, so after evicting one
	// frame there is room.
	select {
	case <-q.ch:
	default:
	}
	q.dropped++
	q.metrics.FrameDropped()
	if q.dropped == 1 || q.dropped%50 == 0 {
		log.Warn("Frame queue overflow, dropping oldest", "dropped", q.dropped, "capacity", cap(q.ch))
	}

	select {
	case q.ch <- f:
	default:
	}
	return true
}

// Frames is the consumer side. It is closed by Close after the buffered
// frames are received.
func (q *FrameQueue) Frames() <-chan AudioFrame { return q.ch }

// Close wakes the consumer. The producer must not be running.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Dropped returns the number of evicted frames.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the number of buffered frames.
func (q *FrameQueue) Len() int { return len(q.ch) }
