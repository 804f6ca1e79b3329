package layerpubsub

import (
	"container/list"
	"context"
	"sync"

	"github.com/xshapira/fast-channels/layer"
)

// localQueue is a bounded per-channel queue with drop-oldest overflow: the
// consumer observes a gap, never a stall.
type localQueue struct {
	mu       sync.Mutex
	capacity int
	items    *list.List // of layer.Message
	waiters  []chan struct{}
	closed   bool

	onOverflow func()
}

func newLocalQueue(capacity int, onOverflow func()) *localQueue {
	return &localQueue{capacity: capacity, items: list.New(), onOverflow: onOverflow}
}

// push enqueues m, dropping the oldest entry first if the queue is already
// at capacity.
func (q *localQueue) push(m layer.Message) {
	q.mu.Lock()
	if q.items.Len() >= q.capacity {
		q.items.Remove(q.items.Front())
		if q.onOverflow != nil {
			q.onOverflow()
		}
	}
	q.items.PushBack(m)
	q.wake()
	q.mu.Unlock()
}

func (q *localQueue) wake() {
	if len(q.waiters) == 0 {
		return
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(w)
}

// pop blocks until a message is available, ctx is cancelled, or the queue is
// closed.
func (q *localQueue) pop(ctx context.Context) (layer.Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, layer.ErrLayerClosed
		}
		if q.items.Len() > 0 {
			m := q.items.Remove(q.items.Front()).(layer.Message)
			q.mu.Unlock()
			return m, nil
		}
		wait := make(chan struct{})
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close wakes every blocked pop and makes subsequent pops return
// ErrLayerClosed immediately. Used by Layer.Close.
func (q *localQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}
