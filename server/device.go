package server

import (
	"context"

	"github.com/mbocsi/iothub/proto"
)

// Device is the handle the registry drives. Every call may block while the
// underlying device does its I/O.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HandleMessage(ctx context.Context, t proto.MessageType, data string) error
}

// Named devices report a human readable name shown in listings and events.
type Named interface {
	Name() string
}

// Kinded devices report their variant, e.g. "hue_light".
type Kinded interface {
	Kind() string
}

func deviceName(d Device) string {
	if n, ok := d.(Named); ok {
		return n.Name()
	}
	return ""
}

func deviceKind(d Device) string {
	if k, ok := d.(Kinded); ok {
		return k.Kind()
	}
	return ""
}
