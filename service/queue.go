package service

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is an ordered, bounded list of pending requests. Insertion order is
// admission order. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    *list.List
	maxDepth int
	closed   bool
	changed  chan struct{} // closed and replaced on every change
}

// NewQueue creates a queue holding at most maxDepth requests.
func NewQueue(maxDepth int) *Queue {
	return &Queue{
		items:    list.New(),
		maxDepth: maxDepth,
		changed:  make(chan struct{}),
	}
}

// notify wakes everyone blocked on the queue. Caller must hold q.mu.
func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push appends req. When the queue is full it returns ErrQueueFull, or with
// block set waits for space until ctx ends. A closed queue returns
// ErrQueueClosed.
func (q *Queue) Push(ctx context.Context, req *Request, block bool) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.items.Len() < q.maxDepth {
			req.elem = q.items.PushBack(req)
			q.notify()
			q.mu.Unlock()
			return nil
		}
		if !block {
			q.mu.Unlock()
			return ErrQueueFull
		}

		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		q.mu.Lock()
	}
}

// Pop removes and returns the head, waiting while the queue is empty.
// Once the queue is closed and empty it returns ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (*Request, error) {
	q.mu.Lock()
	for {
		if front := q.items.Front(); front != nil {
			req := q.items.Remove(front).(*Request)
			req.elem = nil
			q.notify()
			q.mu.Unlock()
			return req, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
		q.mu.Lock()
	}
}

// Remove takes req out of the queue. Returns false if it was not queued.
func (q *Queue) Remove(req *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if req.elem == nil {
		return false
	}
	q.items.Remove(req.elem)
	req.elem = nil
	q.notify()
	return true
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops accepting new requests. Queued requests can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}

// Drain removes and returns every queued request in order.
func (q *Queue) Drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Request, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		req := e.Value.(*Request)
		req.elem = nil
		out = append(out, req)
	}
	q.items.Init()
	q.notify()
	return out
}
