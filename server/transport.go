package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/iothub/proto"
)

// Transport is a command surface in front of the registry. Incoming messages
// are handed to the OnMessage callback, which dispatches them.
type Transport interface {
	Start() error
	OnMessage(func(context.Context, proto.Message) error)
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string // Unique identifier for the transport, e.g., "ws-0.0.0.0:8081"
	Name        string // Human-friendly name, e.g., "WebSocket Gateway"
	Protocol    string // Protocol name, e.g., "websocket"
	Address     string // Bind address, e.g., "0.0.0.0:8081"
	Description string // Optional, short purpose/use case

	Clients    map[string]Client // Current active clients
	MaxClients int               // Max allowed clients (if applicable, else 0)
	Connected  bool              // Whether the transport is currently running/bound
}

type ClientMetadata struct {
	Id        string
	Name      string
	Subs      map[string]struct{}
	Transport Transport
	Mu        sync.RWMutex
}

// Client receives events from the Broker.
type Client interface {
	Send(proto.Event) error
	Meta() *ClientMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// SinkClient adapts a plain function (journal, telemetry, publishers) to a
// broker Client.
type SinkClient struct {
	ClientMetadata
	send func(proto.Event) error
}

func NewSinkClient(name string, send func(proto.Event) error) *SinkClient {
	return &SinkClient{
		send: send,
		ClientMetadata: ClientMetadata{
			Id:   generateClientId("sink"),
			Name: name,
			Subs: make(map[string]struct{}),
		},
	}
}

func (s *SinkClient) Send(event proto.Event) error {
	return s.send(event)
}

func (s *SinkClient) Meta() *ClientMetadata {
	return &s.ClientMetadata
}
