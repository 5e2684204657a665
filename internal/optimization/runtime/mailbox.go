package runtime

import (
	"context"
	"errors"
	"sync"
)

var errMailboxClosed = errors.New("runtime: mailbox closed")

// mailbox is an unbounded FIFO with a single consumer. Put never blocks.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

func (m *mailbox[T]) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Put enqueues items. It reports false if the mailbox is closed.
func (m *mailbox[T]) Put(items ...T) bool {
	if len(items) == 0 {
		return true
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, items...)
	m.mu.Unlock()
	m.wake()
	return true
}

// Take dequeues the oldest item, waiting until one arrives, the mailbox is
// closed and drained, or ctx is done.
func (m *mailbox[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			if len(m.items) == 0 {
				m.items = nil
			}
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return zero, errMailboxClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-m.signal:
		}
	}
}

// Close stops further Puts. Items already queued can still be taken.
func (m *mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// Len is the number of queued items.
func (m *mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
