package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mbocsi/iothub/proto"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesceMs      = 250
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.New("events: mqtt publish timed out")

// mqttClient is the part of pahomqtt.Client the publisher needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTOptions configures the MQTT connection.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTPublisher publishes hub events to <prefix>/<event type>.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
}

// NewMQTTPublisher wraps an existing client.
func NewMQTTPublisher(client mqttClient, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Topic returns the topic an event type is published on.
func (p *MQTTPublisher) Topic(t proto.EventType) string {
	return p.prefix + "/" + string(t)
}

// PublishEvent publishes the event as JSON and waits for the broker.
func (p *MQTTPublisher) PublishEvent(ctx context.Context, event *proto.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}

	token := p.client.Publish(p.Topic(event.Type), p.qos, false, payload)
	timer := time.NewTimer(mqttPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectMQTT dials the broker and returns the client with a publisher on it.
func ConnectMQTT(opts MQTTOptions) (pahomqtt.Client, *MQTTPublisher, error) {
	co := pahomqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(mqttConnectTimeout)

	client := pahomqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, nil, fmt.Errorf("events: mqtt connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("events: mqtt connect to %s: %w", opts.Broker, err)
	}
	return client, NewMQTTPublisher(client, opts.TopicPrefix, opts.QoS), nil
}

// DisconnectMQTT closes the client after pending work drains.
func DisconnectMQTT(client pahomqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(mqttQuiesceMs)
	}
}
