package proto

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDeviceRegistered   EventType = "device.registered"
	EventDeviceUnregistered EventType = "device.unregistered"
	EventMessageDispatched  EventType = "message.dispatched"
	EventMessageFailed      EventType = "message.failed"
)

// AllEvents is the wildcard topic that matches every event type.
const AllEvents = "*"

// Event records the outcome of a registry operation.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	DeviceID   DeviceID  `json:"device_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Message    *Message  `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  int64     `json:"timestamp"` // UNIX timestamp in milliseconds
}

func NewEvent(t EventType, id DeviceID) Event {
	return Event{
		ID:        "evt-" + uuid.NewString(),
		Type:      t,
		DeviceID:  id,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Ack answers a Message received over a streaming transport.
type Ack struct {
	Type   string   `json:"type"` // always "ack"
	Target DeviceID `json:"target"`
	OK     bool     `json:"ok"`
	Error  string   `json:"error,omitempty"`
}
