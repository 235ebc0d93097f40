// Package events forwards hub lifecycle events to external systems.
package events

import (
	"context"

	"github.com/mbocsi/iothub/proto"
)

// EventPublisher forwards a hub event somewhere outside the process.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *proto.Event) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

// PublishEvent is a no-op.
func (p *NoOpPublisher) PublishEvent(_ context.Context, _ *proto.Event) error {
	return nil
}

// CallbackPublisher hands each event to a function.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *proto.Event) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *proto.Event) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishEvent calls the callback.
func (p *CallbackPublisher) PublishEvent(ctx context.Context, event *proto.Event) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher
// is attempted; the first error is returned.
type MultiPublisher []EventPublisher

// PublishEvent publishes to each member in order.
func (m MultiPublisher) PublishEvent(ctx context.Context, event *proto.Event) error {
	var first error
	for _, p := range m {
		if err := p.PublishEvent(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
