package services

import (
	"time"

	"github.com/mbocsi/iothub/server"
)

// Options configures the services. Zero values mean no operation timeout,
// the devices package default delay and simulated devices.
type Options struct {
	DeviceDelay      time.Duration
	OperationTimeout time.Duration
	Factory          DeviceFactory
}

// ServiceManagerImpl manages all services with dependency injection
type ServiceManagerImpl struct {
	coordinator *server.Coordinator
	events      EventStore

	services *ServiceContainer
}

// NewServiceManager creates a new service manager. events may be nil when
// the journal is disabled.
func NewServiceManager(coordinator *server.Coordinator, events EventStore, opts Options) *ServiceManagerImpl {
	sm := &ServiceManagerImpl{
		coordinator: coordinator,
		events:      events,
	}

	sm.services = &ServiceContainer{
		Device:    NewDeviceService(coordinator, opts),
		Messaging: NewMessagingService(coordinator, opts),
		Event:     NewEventService(events),
		Transport: NewTransportService(coordinator),
	}

	return sm
}

// GetServices returns the service container
func (sm *ServiceManagerImpl) GetServices() *ServiceContainer {
	return sm.services
}
