package utils

import (
	"context"
	"sync"

	"github.com/drpcorg/steit/steit_errors"
)

// Queue is a bounded in-memory FIFO of frames between one writer side
// (Drain) and one reader side (Feed). A Drain that would exceed the byte
// limit fails with ErrOverflow instead of blocking.
type Queue[T ~[][]byte] struct {
	mu     sync.Mutex
	recs   T
	size   int
	limit  int
	batch  int
	closed bool
	ready  chan struct{}
}

// NewQueue holds up to limit bytes and hands out batches of at least
// batch bytes when that much is pending.
func NewQueue[T ~[][]byte](limit, batch int) *Queue[T] {
	return &Queue[T]{
		limit: limit,
		batch: batch,
		ready: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Drain(ctx context.Context, recs T) error {
	total := 0
	for _, rec := range recs {
		total += len(rec)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return steit_errors.ErrClosed
	}
	if q.size+total > q.limit {
		return steit_errors.ErrOverflow
	}
	q.recs = append(q.recs, recs...)
	q.size += total
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Feed waits for pending frames and takes them, up to a batch.
func (q *Queue[T]) Feed(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.recs) > 0 {
			recs := q.take()
			q.mu.Unlock()
			return recs, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, steit_errors.ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue[T]) take() T {
	n, size := 0, 0
	for n < len(q.recs) && (n == 0 || size < q.batch) {
		size += len(q.recs[n])
		n++
	}
	recs := make(T, n)
	copy(recs, q.recs[:n])
	clear(q.recs[:n])
	q.recs = q.recs[n:]
	q.size -= size
	if len(q.recs) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return recs
}

// Close wakes up a pending Feed; frames left in the queue are dropped.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.recs = nil
		q.size = 0
		close(q.ready)
	}
	return nil
}

func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.recs)
}
