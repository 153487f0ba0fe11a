// Package queue holds the ingress queue of pending task references.
//
// Dequeue order is by priority (lower value first) and FIFO among equal
// priorities. Every implementation is safe for concurrent Enqueue and Dequeue.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmpty  = errors.New("no tasks ready")
	ErrClosed = errors.New("queue closed")
)

// Ref points at a persisted task; the record itself lives in the store.
type Ref struct {
	TaskID   string
	Priority int
}

type Queue interface {
	Enqueue(ctx context.Context, ref Ref) error
	// Dequeue waits at most wait for a ref and returns ErrEmpty when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (Ref, error)
	Len(ctx context.Context) (int, error)
	Close() error
}
