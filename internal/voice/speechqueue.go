package voice

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"

	"aegis/internal/observe"
)

// Priority orders speech requests.
type Priority int

const (
	Normal Priority = iota
	Immediate
)

func (p Priority) String() string {
	if p == Immediate {
		return "immediate"
	}
	return "normal"
}

// SpeechRequest is one utterance or cue waiting for playback. Exactly one
// of Text or Clip is set.
type SpeechRequest struct {
	ID       uuid.UUID
	Text     string
	Priority Priority
	Clip     *Clip

	seq uint64
}

type requestHeap []*SpeechRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*SpeechRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// SpeechQueue is an unbounded priority FIFO. Immediate requests are served
// before any Normal request; within a priority, submission order holds.
type SpeechQueue struct {
	mu      sync.Mutex
	items   requestHeap
	seq     uint64
	closed  bool
	notify  chan struct{}
	metrics *observe.Metrics
}

// NewSpeechQueue returns an empty open queue.
func NewSpeechQueue(metrics *observe.Metrics) *SpeechQueue {
	return &SpeechQueue{
		notify:  make(chan struct{}, 1),
		metrics: metrics,
	}
}

// Push enqueues req, assigning an ID if it has none. It never blocks.
func (q *SpeechQueue) Push(req *SpeechRequest) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	q.seq++
	req.seq = q.seq
	heap.Push(&q.items, req)
	q.mu.Unlock()

	q.metrics.Queued(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a request is available, the queue is closed or ctx is
// done. The second result is false when no request will follow.
func (q *SpeechQueue) Pop(ctx context.Context) (*SpeechRequest, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if q.items.Len() > 0 {
			req := heap.Pop(&q.items).(*SpeechRequest)
			q.mu.Unlock()
			q.metrics.Queued(-1)
			return req, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

// Close rejects further pushes, wakes a blocked Pop and returns the
// requests that were still pending, in priority order.
func (q *SpeechQueue) Close() []*SpeechRequest {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	var pending []*SpeechRequest
	for q.items.Len() > 0 {
		pending = append(pending, heap.Pop(&q.items).(*SpeechRequest))
	}
	q.mu.Unlock()

	q.metrics.Queued(-int64(len(pending)))
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return pending
}

// Len returns the number of pending requests.
func (q *SpeechQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
