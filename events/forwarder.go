package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Forwarder subscribes to the broker as a sink and publishes events on a
// background goroutine so slow backends never stall the coordinator.
// Events are dropped when the queue is full.
type Forwarder struct {
	name      string
	publisher EventPublisher
	queue     chan proto.Event
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewForwarder starts a forwarder with the given queue size (0 for default).
func NewForwarder(name string, publisher EventPublisher, queueSize int) *Forwarder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	f := &Forwarder{
		name:      name,
		publisher: publisher,
		queue:     make(chan proto.Event, queueSize),
		timeout:   defaultPublishTimeout,
		logger:    slog.With("component", "forwarder", "sink", name),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Client returns the broker client that feeds this forwarder.
func (f *Forwarder) Client() *server.SinkClient {
	return server.NewSinkClient(f.name, f.enqueue)
}

func (f *Forwarder) enqueue(event proto.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	select {
	case f.queue <- event:
	default:
		f.logger.Warn("Queue full, dropping event", "event_id", event.ID, "type", event.Type)
	}
	return nil
}

func (f *Forwarder) run() {
	defer close(f.done)
	for event := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.publisher.PublishEvent(ctx, &event); err != nil {
			f.logger.Error("Failed to publish event", "event_id", event.ID, "type", event.Type, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}
