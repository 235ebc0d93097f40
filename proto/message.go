package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceID is the identifier the registry assigns to a device on registration.
type DeviceID uint64

func (id DeviceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseDeviceID parses the decimal form produced by DeviceID.String.
func ParseDeviceID(s string) (DeviceID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid device id %q", s)
	}
	return DeviceID(n), nil
}

type MessageType string

const (
	SwitchOn  MessageType = "SWITCH_ON"
	SwitchOff MessageType = "SWITCH_OFF"
	PlaySong  MessageType = "PLAY_SONG"
	Flush     MessageType = "FLUSH"
	Clean     MessageType = "CLEAN"
)

var messageTypes = map[MessageType]struct{}{
	SwitchOn:  {},
	SwitchOff: {},
	PlaySong:  {},
	Flush:     {},
	Clean:     {},
}

// MessageTypes returns the known message kinds in declaration order.
func MessageTypes() []MessageType {
	return []MessageType{SwitchOn, SwitchOff, PlaySong, Flush, Clean}
}

func (t MessageType) Valid() bool {
	_, ok := messageTypes[t]
	return ok
}

// ParseMessageType accepts the canonical name in any case ("switch_on", "SWITCH_ON").
func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

// Message is addressed to a single registered device. Data is an optional
// free-form payload, e.g. the song title for PLAY_SONG.
type Message struct {
	Target DeviceID    `json:"target"`
	Type   MessageType `json:"type"`
	Data   string      `json:"data,omitempty"`
}

func NewMessage(target DeviceID, t MessageType, data ...string) Message {
	msg := Message{Target: target, Type: t}
	if len(data) > 0 {
		msg.Data = data[0]
	}
	return msg
}

func (m Message) Validate() error {
	if m.Target == 0 {
		return fmt.Errorf("message target is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
