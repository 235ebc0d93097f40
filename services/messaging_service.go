package services

import (
	"context"
	"time"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

// MessagingServiceImpl implements MessagingService
type MessagingServiceImpl struct {
	coordinator *server.Coordinator
	timeout     time.Duration
}

// NewMessagingService creates a new messaging service
func NewMessagingService(coordinator *server.Coordinator, opts Options) MessagingService {
	return &MessagingServiceImpl{
		coordinator: coordinator,
		timeout:     opts.OperationTimeout,
	}
}

// SendMessage validates the request and dispatches it, returning once the
// device has handled it
func (ms *MessagingServiceImpl) SendMessage(ctx context.Context, req MessageRequest) error {
	if req.Target == 0 {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Message target is required"}
	}
	msgType, err := proto.ParseMessageType(req.Type)
	if err != nil {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid message type: " + req.Type, Cause: err}
	}

	ctx, cancel := withTimeout(ctx, ms.timeout)
	defer cancel()

	return toServiceError(ms.coordinator.Dispatch(ctx, proto.NewMessage(req.Target, msgType, req.Data)))
}

// MessageTypes lists the accepted message types
func (ms *MessagingServiceImpl) MessageTypes() []string {
	types := proto.MessageTypes()
	result := make([]string, 0, len(types))
	for _, t := range types {
		result = append(result, string(t))
	}
	return result
}
