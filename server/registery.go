package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/iothub/proto"
)

type DeviceInfo struct {
	ID           proto.DeviceID `json:"id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	RegisteredAt time.Time      `json:"registered_at"`
}

type entry struct {
	info   DeviceInfo
	device Device

	// Dispatch holds mu shared while the device handles a message,
	// Unregister holds it exclusively while the device disconnects.
	mu      sync.RWMutex
	removed atomic.Bool
}

// DeviceRegistry maps identifiers to connected device handles.
// An id becomes visible only after Connect returned and stops being
// visible before Disconnect is called.
type DeviceRegistry struct {
	mu     sync.RWMutex
	store  map[proto.DeviceID]*entry
	nextID proto.DeviceID
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{store: make(map[proto.DeviceID]*entry)}
}

// Register connects the device and returns its new identifier. Identifiers
// are allocated sequentially starting at 1 and never reused.
//
// If ctx is cancelled after Connect succeeded the device is disconnected
// again and no identifier is handed out.
func (r *DeviceRegistry) Register(ctx context.Context, d Device) (proto.DeviceID, error) {
	info, err := r.register(ctx, d)
	return info.ID, err
}

func (r *DeviceRegistry) register(ctx context.Context, d Device) (DeviceInfo, error) {
	if d == nil {
		return DeviceInfo{}, fmt.Errorf("%w: nil device", ErrConnectFailed)
	}
	if err := ctx.Err(); err != nil {
		return DeviceInfo{}, err
	}

	if err := d.Connect(ctx); err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := ctx.Err(); err != nil {
		if derr := d.Disconnect(context.WithoutCancel(ctx)); derr != nil {
			slog.Warn("Rollback disconnect failed", "name", deviceName(d), "error", derr.Error())
		}
		return DeviceInfo{}, err
	}

	r.mu.Lock()
	r.nextID++
	e := &entry{
		device: d,
		info: DeviceInfo{
			ID:           r.nextID,
			Name:         deviceName(d),
			Kind:         deviceKind(d),
			RegisteredAt: time.Now(),
		},
	}
	r.store[e.info.ID] = e
	r.mu.Unlock()

	return e.info, nil
}

// Unregister removes the device and disconnects it. The identifier is
// invalid from the moment Unregister starts, even if Disconnect fails.
func (r *DeviceRegistry) Unregister(ctx context.Context, id proto.DeviceID) error {
	_, err := r.unregister(ctx, id)
	return err
}

func (r *DeviceRegistry) unregister(ctx context.Context, id proto.DeviceID) (DeviceInfo, error) {
	r.mu.Lock()
	e, ok := r.store[id]
	if ok {
		delete(r.store, id)
		e.removed.Store(true)
	}
	r.mu.Unlock()

	if !ok {
		return DeviceInfo{ID: id}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	// Wait for in-flight dispatches to this device.
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.device.Disconnect(ctx); err != nil {
		return e.info, fmt.Errorf("%w: %w", ErrDisconnectFailed, err)
	}
	return e.info, nil
}

// Dispatch delivers msg to its target and returns once the device handled it.
// A failed dispatch leaves the registry unchanged.
func (r *DeviceRegistry) Dispatch(ctx context.Context, msg proto.Message) error {
	_, err := r.dispatch(ctx, msg)
	return err
}

func (r *DeviceRegistry) dispatch(ctx context.Context, msg proto.Message) (DeviceInfo, error) {
	if !msg.Type.Valid() {
		return DeviceInfo{ID: msg.Target}, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	r.mu.RLock()
	e, ok := r.store[msg.Target]
	r.mu.RUnlock()
	if !ok {
		return DeviceInfo{ID: msg.Target}, fmt.Errorf("%w: %s", ErrDeviceNotFound, msg.Target)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Lost the race against Unregister.
	if e.removed.Load() {
		return e.info, fmt.Errorf("%w: %s", ErrDeviceNotFound, msg.Target)
	}

	if err := e.device.HandleMessage(ctx, msg.Type, msg.Data); err != nil {
		return e.info, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return e.info, nil
}

func (r *DeviceRegistry) Get(id proto.DeviceID) (DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.store[id]
	if !ok {
		return DeviceInfo{}, false
	}
	return e.info, true
}

// List returns the registered devices ordered by id.
func (r *DeviceRegistry) List() []DeviceInfo {
	r.mu.RLock()
	devices := make([]DeviceInfo, 0, len(r.store))
	for _, e := range r.store {
		devices = append(devices, e.info)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
