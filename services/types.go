package services

import (
	"time"

	"github.com/mbocsi/iothub/proto"
)

// DeviceInfo represents device information for the service layer
type DeviceInfo struct {
	ID           proto.DeviceID `json:"id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// TransportInfo represents transport connection information
type TransportInfo struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	MaxClients  int    `json:"max_clients"`
}

// RegisterRequest asks for a simulated device of the given kind.
// A zero DelayMs uses the service default.
type RegisterRequest struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	DelayMs int64  `json:"delay_ms,omitempty"`
}

// MessageRequest is a message addressed to a device. Type is parsed
// case-insensitively.
type MessageRequest struct {
	Target proto.DeviceID `json:"target"`
	Type   string         `json:"type"`
	Data   string         `json:"data,omitempty"`
}

// EventQuery filters the journal.
type EventQuery struct {
	DeviceID proto.DeviceID `json:"device_id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeDevice       = "DEVICE_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
)
