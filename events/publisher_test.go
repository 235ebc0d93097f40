package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

func TestNoOpPublisher(t *testing.T) {
	p := &NoOpPublisher{}
	event := proto.NewEvent(proto.EventDeviceRegistered, 1)
	if err := p.PublishEvent(context.Background(), &event); err != nil {
		t.Errorf("events:publisher_test - expected nil, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var got *proto.Event
	p := NewCallbackPublisher(func(_ context.Context, e *proto.Event) error {
		got = e
		return nil
	})

	event := proto.NewEvent(proto.EventMessageDispatched, 3)
	if err := p.PublishEvent(context.Background(), &event); err != nil {
		t.Fatalf("events:publisher_test - unexpected error: %v", err)
	}
	if got == nil || got.DeviceID != 3 {
		t.Errorf("events:publisher_test - callback not invoked with event, got %+v", got)
	}
}

func TestMultiPublisher_AttemptsAll(t *testing.T) {
	calls := 0
	failing := NewCallbackPublisher(func(context.Context, *proto.Event) error {
		calls++
		return errors.New("down")
	})
	healthy := NewCallbackPublisher(func(context.Context, *proto.Event) error {
		calls++
		return nil
	})

	event := proto.NewEvent(proto.EventMessageFailed, 1)
	err := MultiPublisher{failing, healthy}.PublishEvent(context.Background(), &event)
	if err == nil || err.Error() != "down" {
		t.Errorf("events:publisher_test - expected first error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("events:publisher_test - expected both publishers called, got %d", calls)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []proto.Event
	block  chan struct{}
}

func (r *recorder) PublishEvent(_ context.Context, e *proto.Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestForwarder_DeliversThroughBroker(t *testing.T) {
	rec := &recorder{}
	f := NewForwarder("test", rec, 0)

	broker := server.NewBroker()
	broker.Subscribe(proto.AllEvents, f.Client())
	broker.Publish(proto.NewEvent(proto.EventDeviceRegistered, 1))
	broker.Publish(proto.NewEvent(proto.EventDeviceUnregistered, 1))

	f.Close()
	if rec.count() != 2 {
		t.Errorf("events:publisher_test - expected 2 forwarded events, got %d", rec.count())
	}

	// Sends after close are ignored.
	broker.Publish(proto.NewEvent(proto.EventDeviceRegistered, 2))
	if rec.count() != 2 {
		t.Errorf("events:publisher_test - expected no delivery after close, got %d", rec.count())
	}
}

func TestForwarder_DropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	f := NewForwarder("slow", rec, 1)
	client := f.Client()

	// First event is picked up by the worker and blocks there, the second
	// fills the queue and the rest are dropped.
	client.Send(proto.NewEvent(proto.EventMessageDispatched, 1))
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := client.Send(proto.NewEvent(proto.EventMessageDispatched, 2)); err != nil {
			t.Fatalf("events:publisher_test - enqueue should never fail, got %v", err)
		}
	}

	close(rec.block)
	f.Close()
	if got := rec.count(); got != 2 {
		t.Errorf("events:publisher_test - expected 2 delivered events, got %d", got)
	}
}
