package services

import (
	"context"

	"github.com/mbocsi/iothub/proto"
)

// DeviceService handles device lifecycle operations
type DeviceService interface {
	ListDevices() ([]DeviceInfo, error)
	GetDevice(id proto.DeviceID) (*DeviceInfo, error)
	RegisterDevice(ctx context.Context, req RegisterRequest) (*DeviceInfo, error)
	UnregisterDevice(ctx context.Context, id proto.DeviceID) error
	ListKinds() []string
}

// MessagingService routes messages to registered devices
type MessagingService interface {
	SendMessage(ctx context.Context, req MessageRequest) error
	MessageTypes() []string
}

// EventService exposes the event journal
type EventService interface {
	Enabled() bool
	RecentEvents(ctx context.Context, query EventQuery) ([]proto.Event, error)
}

// TransportService handles transport information
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	GetTransport(index int) (*TransportInfo, error)
	GetTransportStats() (map[string]interface{}, error)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Device    DeviceService
	Messaging MessagingService
	Event     EventService
	Transport TransportService
}
