package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/iothub/proto"
)

// Coordinator runs registry operations on behalf of every front-end and
// publishes their outcome as events.
type Coordinator struct {
	Registery *DeviceRegistry
	Broker    *Broker

	tmu        sync.RWMutex
	transports []Transport
}

func NewCoordinator(registery *DeviceRegistry, broker *Broker) *Coordinator {
	return &Coordinator{Registery: registery, Broker: broker}
}

func (c *Coordinator) Start(ctx context.Context) error {
	for _, t := range c.Transports() {
		go func(t Transport) {
			if err := t.Start(); err != nil {
				slog.Error("Transport stopped with error", "transport", t.Meta().ID, "error", err.Error())
			}
		}(t)
	}

	<-ctx.Done()
	slog.Info("Shutting down transports and server")

	for _, t := range c.Transports() {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	return nil
}

// Shutdown disconnects every device still registered.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	devices := c.Registery.List()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range devices {
		wg.Add(1)
		go func(id proto.DeviceID) {
			defer wg.Done()
			if err := c.UnregisterDevice(ctx, id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Dispatch)
	c.tmu.Lock()
	c.transports = append(c.transports, t)
	c.tmu.Unlock()
}

func (c *Coordinator) Transports() []Transport {
	c.tmu.RLock()
	defer c.tmu.RUnlock()
	return append([]Transport(nil), c.transports...)
}

func (c *Coordinator) RegisterDevice(ctx context.Context, d Device) (DeviceInfo, error) {
	start := time.Now()
	info, err := c.Registery.register(ctx, d)
	if err != nil {
		slog.Warn("Failed to register device", "name", deviceName(d), "error", err.Error())
		return info, err
	}

	event := newDeviceEvent(proto.EventDeviceRegistered, info, start)
	c.Broker.Publish(event)

	slog.Info("Registered device", "id", info.ID, "name", info.Name, "kind", info.Kind)
	return info, nil
}

func (c *Coordinator) UnregisterDevice(ctx context.Context, id proto.DeviceID) error {
	start := time.Now()
	info, err := c.Registery.unregister(ctx, id)
	if errors.Is(err, ErrDeviceNotFound) {
		slog.Debug("Unregister of unknown device", "id", id)
		return err
	}

	// The id is gone even when Disconnect failed.
	event := newDeviceEvent(proto.EventDeviceUnregistered, info, start)
	if err != nil {
		event.Error = err.Error()
		slog.Warn("Device disconnect failed", "id", id, "error", err.Error())
	}
	c.Broker.Publish(event)

	slog.Info("Unregistered device", "id", info.ID, "name", info.Name)
	return err
}

// Dispatch delivers the message and publishes message.dispatched or
// message.failed. It is the OnMessage callback of every transport.
func (c *Coordinator) Dispatch(ctx context.Context, msg proto.Message) error {
	start := time.Now()
	info, err := c.Registery.dispatch(ctx, msg)

	m := msg
	if err != nil {
		event := newDeviceEvent(proto.EventMessageFailed, info, start)
		event.Message = &m
		event.Error = err.Error()
		c.Broker.Publish(event)
		slog.Warn("Dispatch failed", "target", msg.Target, "type", msg.Type, "error", err.Error())
		return err
	}

	event := newDeviceEvent(proto.EventMessageDispatched, info, start)
	event.Message = &m
	c.Broker.Publish(event)

	slog.Debug("Message dispatched",
		"target", msg.Target,
		"type", msg.Type,
		"size", len(msg.Data),
		"duration", time.Since(start),
	)
	return nil
}

func newDeviceEvent(t proto.EventType, info DeviceInfo, start time.Time) proto.Event {
	event := proto.NewEvent(t, info.ID)
	event.Name = info.Name
	event.Kind = info.Kind
	event.DurationMs = time.Since(start).Milliseconds()
	return event
}
