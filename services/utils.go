package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

// toServiceError maps registry and context errors onto service codes.
func toServiceError(err error) error {
	if err == nil {
		return nil
	}
	var se ServiceError
	if errors.As(err, &se) {
		return err
	}

	switch {
	case errors.Is(err, server.ErrDeviceNotFound):
		return ServiceError{Code: ErrCodeNotFound, Message: "Device not found", Cause: err}
	case errors.Is(err, server.ErrInvalidMessage):
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid message", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return ServiceError{Code: ErrCodeTimeout, Message: "Operation timed out", Cause: err}
	case errors.Is(err, server.ErrConnectFailed),
		errors.Is(err, server.ErrDisconnectFailed),
		errors.Is(err, server.ErrDispatchFailed):
		return ServiceError{Code: ErrCodeDevice, Message: "Device operation failed", Cause: err}
	default:
		return ServiceError{Code: ErrCodeInternal, Message: "Internal error", Cause: err}
	}
}

// ErrorCode returns the service code carried by err, or INTERNAL_ERROR.
func ErrorCode(err error) string {
	var se ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// ParseDeviceID parses a textual id into a DeviceID.
func ParseDeviceID(s string) (proto.DeviceID, error) {
	id, err := proto.ParseDeviceID(strings.TrimSpace(s))
	if err != nil {
		return 0, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid device id: " + s, Cause: err}
	}
	return id, nil
}

// convertDeviceInfo converts server.DeviceInfo to DeviceInfo
func convertDeviceInfo(info server.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		ID:           info.ID,
		Name:         info.Name,
		Kind:         info.Kind,
		RegisteredAt: info.RegisteredAt,
	}
}

// convertTransportMeta converts transport metadata to TransportInfo
func convertTransportMeta(index int, transport server.Transport) TransportInfo {
	meta := transport.Meta()
	status := "disconnected"
	if meta.Connected {
		status = "connected"
	}

	return TransportInfo{
		Index:       index,
		ID:          meta.ID,
		Name:        meta.Name,
		Type:        meta.Protocol,
		Address:     meta.Address,
		Status:      status,
		Connections: len(meta.Clients),
		MaxClients:  meta.MaxClients,
	}
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
