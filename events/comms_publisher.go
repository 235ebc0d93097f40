package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/mbocsi/iothub/proto"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// DefaultSubject is the subject every event is published on.
const DefaultSubject = "iothub.events"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	Subject string
}

// CommsPublisher publishes hub events to NATS. Each event goes to the base
// subject and to <subject>.<event type>.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := DefaultSubject
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &CommsPublisher{nc: nc, subject: subject}
}

// TypeSubject returns the granular subject for an event type.
func (p *CommsPublisher) TypeSubject(t proto.EventType) string {
	return p.subject + "." + string(t)
}

// PublishEvent publishes the event to the granular and the base subject.
func (p *CommsPublisher) PublishEvent(_ context.Context, event *proto.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granular := p.TypeSubject(event.Type)
	if err := p.nc.Publish(granular, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granular, err))
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - published %s for device %d", commsPublisherLogPrefix, event.Type, event.DeviceID))
	return nil
}

// ConnectComms opens a NATS connection with reconnect handling.
func ConnectComms(url, name string) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - connecting to %s as %s", commsPublisherLogPrefix, url, name))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(10*time.Second),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - disconnected: %v", commsPublisherLogPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - reconnected to %s", commsPublisherLogPrefix, nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect: %w", commsPublisherLogPrefix, err)
	}
	return nc, nil
}
