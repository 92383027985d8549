package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/relay/internal/pkg/queue"
)

// MemoryQueue é uma fila FIFO limitada. Cheia, descarta o evento mais
// antigo para aceitar o novo, como o LTRIM da fila Redis.
type MemoryQueue struct {
	mu      sync.Mutex
	events  []queue.Event
	maxLen  int
	dropped int64
	closed  bool
	// ready é fechado e trocado a cada Enqueue para acordar quem espera.
	ready chan struct{}
}

func NewQueue(maxLen int) *MemoryQueue {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryQueue{
		maxLen: maxLen,
		ready:  make(chan struct{}),
	}
}

// Enqueue nunca bloqueia.
func (q *MemoryQueue) Enqueue(ctx context.Context, event queue.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}

	if len(q.events) >= q.maxLen {
		q.events[0] = queue.Event{}
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, event)

	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Dequeue espera até timeout por um evento. Fechada, entrega o que restou
// e depois devolve queue.ErrClosed.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			event := q.events[0]
			q.events[0] = queue.Event{}
			q.events = q.events[1:]
			q.mu.Unlock()
			return &event, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.events)), nil
}

// Dropped conta os eventos descartados por falta de espaço.
func (q *MemoryQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
		q.ready = make(chan struct{})
	}
	return nil
}
