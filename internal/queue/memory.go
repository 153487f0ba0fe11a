package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type item struct {
	ref Ref
	seq uint64
}

type refHeap []item

func (h refHeap) Len() int { return len(h) }
func (h refHeap) Less(i, j int) bool {
	if h[i].ref.Priority != h[j].ref.Priority {
		return h[i].ref.Priority < h[j].ref.Priority
	}
	return h[i].seq < h[j].seq
}
func (h refHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *refHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Memory is an in-process priority queue. Waiters are woken by closing the
// current ready channel, which is replaced on every push.
type Memory struct {
	mu     sync.Mutex
	items  refHeap
	seq    uint64
	ready  chan struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{ready: make(chan struct{})}
}

func (m *Memory) Enqueue(_ context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.seq++
	heap.Push(&m.items, item{ref: ref, seq: m.seq})
	close(m.ready)
	m.ready = make(chan struct{})
	return nil
}

func (m *Memory) Dequeue(ctx context.Context, wait time.Duration) (Ref, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Ref{}, ErrClosed
		}
		if m.items.Len() > 0 {
			it := heap.Pop(&m.items).(item)
			m.mu.Unlock()
			return it.ref, nil
		}
		ready := m.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return Ref{}, ErrEmpty
		case <-ctx.Done():
			return Ref{}, ctx.Err()
		}
	}
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len(), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ready)
	}
	return nil
}
