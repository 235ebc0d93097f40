package services

import (
	"context"
	"strings"

	"github.com/mbocsi/iothub/journal"
	"github.com/mbocsi/iothub/proto"
)

// EventStore is the read side of the journal.
type EventStore interface {
	List(ctx context.Context, filter journal.Filter) ([]proto.Event, error)
}

// EventServiceImpl implements EventService
type EventServiceImpl struct {
	store EventStore
}

// NewEventService creates an event service. A nil store disables it.
func NewEventService(store EventStore) EventService {
	return &EventServiceImpl{store: store}
}

// Enabled reports whether a journal is configured
func (es *EventServiceImpl) Enabled() bool {
	return es.store != nil
}

// RecentEvents returns journaled events, most recent first
func (es *EventServiceImpl) RecentEvents(ctx context.Context, query EventQuery) ([]proto.Event, error) {
	if es.store == nil {
		return nil, ServiceError{Code: ErrCodeUnavailable, Message: "Event journal is disabled"}
	}
	if query.Limit < 0 {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Limit cannot be negative"}
	}

	filter := journal.Filter{DeviceID: query.DeviceID, Limit: query.Limit}
	if t := strings.TrimSpace(query.Type); t != "" {
		filter.Type = proto.EventType(strings.ToLower(t))
		if !validEventType(filter.Type) {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid event type: " + query.Type}
		}
	}

	events, err := es.store.List(ctx, filter)
	if err != nil {
		return nil, toServiceError(err)
	}
	return events, nil
}

func validEventType(t proto.EventType) bool {
	switch t {
	case proto.EventDeviceRegistered, proto.EventDeviceUnregistered,
		proto.EventMessageDispatched, proto.EventMessageFailed:
		return true
	}
	return false
}
