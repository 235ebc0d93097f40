package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mbocsi/iothub/devices"
	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

// DeviceFactory builds a device from a kind, display name and delay.
type DeviceFactory func(kind, name string, delay time.Duration) (server.Device, error)

// SimulatedFactory builds the simulated devices shipped with the hub.
func SimulatedFactory(kind, name string, delay time.Duration) (server.Device, error) {
	return devices.New(kind, name, delay)
}

// DeviceServiceImpl implements DeviceService
type DeviceServiceImpl struct {
	coordinator  *server.Coordinator
	factory      DeviceFactory
	defaultDelay time.Duration
	timeout      time.Duration
}

// NewDeviceService creates a new device service
func NewDeviceService(coordinator *server.Coordinator, opts Options) DeviceService {
	factory := opts.Factory
	if factory == nil {
		factory = SimulatedFactory
	}
	return &DeviceServiceImpl{
		coordinator:  coordinator,
		factory:      factory,
		defaultDelay: opts.DeviceDelay,
		timeout:      opts.OperationTimeout,
	}
}

// ListDevices returns all registered devices ordered by id
func (ds *DeviceServiceImpl) ListDevices() ([]DeviceInfo, error) {
	devices := ds.coordinator.Registery.List()
	result := make([]DeviceInfo, 0, len(devices))

	for _, device := range devices {
		result = append(result, convertDeviceInfo(device))
	}

	return result, nil
}

// GetDevice returns a specific device by ID
func (ds *DeviceServiceImpl) GetDevice(id proto.DeviceID) (*DeviceInfo, error) {
	device, exists := ds.coordinator.Registery.Get(id)
	if !exists {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Device not found: " + id.String(),
		}
	}

	info := convertDeviceInfo(device)
	return &info, nil
}

// RegisterDevice builds a device and registers it, waiting for it to connect
func (ds *DeviceServiceImpl) RegisterDevice(ctx context.Context, req RegisterRequest) (*DeviceInfo, error) {
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Device kind is required"}
	}
	if req.DelayMs < 0 {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Device delay cannot be negative"}
	}

	delay := ds.defaultDelay
	if req.DelayMs > 0 {
		delay = time.Duration(req.DelayMs) * time.Millisecond
	}

	device, err := ds.factory(kind, strings.TrimSpace(req.Name), delay)
	if err != nil {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Cannot build device", Cause: err}
	}

	ctx, cancel := withTimeout(ctx, ds.timeout)
	defer cancel()

	info, err := ds.coordinator.RegisterDevice(ctx, device)
	if err != nil {
		slog.Warn("Device registration failed", "kind", kind, "error", err)
		return nil, toServiceError(err)
	}

	result := convertDeviceInfo(info)
	return &result, nil
}

// UnregisterDevice disconnects and removes a device
func (ds *DeviceServiceImpl) UnregisterDevice(ctx context.Context, id proto.DeviceID) error {
	ctx, cancel := withTimeout(ctx, ds.timeout)
	defer cancel()

	return toServiceError(ds.coordinator.UnregisterDevice(ctx, id))
}

// ListKinds returns the device kinds RegisterDevice accepts
func (ds *DeviceServiceImpl) ListKinds() []string {
	return devices.Kinds()
}
