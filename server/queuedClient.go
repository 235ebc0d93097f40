package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/iothub/proto"
)

// DefaultClientQueue is the per-client event buffer of streaming clients.
const DefaultClientQueue = 64

var (
	ErrClientClosed = errors.New("client closed")
	ErrQueueFull    = errors.New("client queue full")
)

// QueuedClient delivers events to a streaming client from its own goroutine
// so Broker.Publish never waits on the client's connection. Events keep their
// order. When the queue is full new events are dropped.
type QueuedClient struct {
	inner Client
	queue chan proto.Event
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewQueuedClient(inner Client, size int) *QueuedClient {
	if size <= 0 {
		size = DefaultClientQueue
	}
	q := &QueuedClient{
		inner: inner,
		queue: make(chan proto.Event, size),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *QueuedClient) Send(event proto.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClientClosed
	}

	select {
	case q.queue <- event:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Meta returns the wrapped client's metadata.
func (q *QueuedClient) Meta() *ClientMetadata {
	return q.inner.Meta()
}

// Dropped is the number of events discarded because the queue was full.
func (q *QueuedClient) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *QueuedClient) run() {
	defer close(q.done)
	for event := range q.queue {
		if err := q.inner.Send(event); err != nil {
			slog.Debug("Queued delivery failed", "client", q.inner.Meta().Id, "type", event.Type, "error", err.Error())
		}
	}
}

// Close stops accepting events and waits until the queue is drained. Close
// the underlying connection first so pending writes fail fast.
func (q *QueuedClient) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	<-q.done

	if n := q.dropped.Load(); n > 0 {
		slog.Warn("Slow client dropped events", "client", q.inner.Meta().Id, "dropped", n)
	}
}
