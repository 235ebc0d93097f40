package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
)

const shutdownGrace = 5 * time.Second

// HTTPTransport serves the JSON API as a coordinator transport. Open SSE
// streams are reported as its clients.
type HTTPTransport struct {
	Addr      string
	server    *http.Server
	web       *WebClient
	onMessage func(context.Context, proto.Message) error

	name        string
	description string
	clients     map[string]server.Client
	cmu         sync.RWMutex

	maxClients int
	connected  bool
}

// NewHTTPTransport binds the web client's routes to addr.
func NewHTTPTransport(addr string, web *WebClient) *HTTPTransport {
	t := &HTTPTransport{
		Addr:        addr,
		web:         web,
		name:        "HTTP API",
		description: "JSON API and SSE event stream",
		clients:     make(map[string]server.Client),
	}
	web.streams = t
	return t
}

func (ht *HTTPTransport) Start() error {
	slog.Info("Starting HTTP API", "addr", ht.Addr)
	if ht.onMessage == nil {
		return fmt.Errorf("http transport: OnMessage is not defined, register the transport with a coordinator first")
	}

	ht.cmu.Lock()
	ht.server = &http.Server{
		Addr:              ht.Addr,
		Handler:           ht.web.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ht.server.RegisterOnShutdown(ht.web.CloseStreams)
	srv := ht.server
	ht.connected = true
	ht.cmu.Unlock()

	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		ht.cmu.Lock()
		ht.connected = false
		ht.cmu.Unlock()
		return err
	}
	return nil
}

// OnMessage records the coordinator's dispatch callback. HTTP requests
// reach devices through the service layer, which dispatches on the same
// coordinator.
func (ht *HTTPTransport) OnMessage(handler func(context.Context, proto.Message) error) {
	ht.onMessage = handler
}

func (ht *HTTPTransport) Shutdown() error {
	ht.cmu.Lock()
	srv := ht.server
	ht.connected = false
	ht.cmu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("HTTP API did not drain, closing", "error", err)
		return srv.Close()
	}
	slog.Info("HTTP API shut down")
	return nil
}

func (ht *HTTPTransport) Meta() server.TransportMetadata {
	ht.cmu.RLock()
	defer ht.cmu.RUnlock()

	clients := make(map[string]server.Client, len(ht.clients))
	for id, c := range ht.clients {
		clients[id] = c
	}
	return server.TransportMetadata{
		ID:          "http-" + ht.Addr,
		Name:        ht.name,
		Description: ht.description,
		Protocol:    "http",
		Address:     ht.Addr,
		Clients:     clients,
		MaxClients:  ht.maxClients,
		Connected:   ht.connected,
	}
}

func (ht *HTTPTransport) SetName(name string) {
	ht.name = name
}

func (ht *HTTPTransport) SetDescription(description string) {
	ht.description = description
}

// AddClient registers an open event stream
func (ht *HTTPTransport) AddClient(client server.Client) {
	ht.cmu.Lock()
	defer ht.cmu.Unlock()

	client.Meta().Transport = ht
	ht.clients[client.Meta().Id] = client
}

// RemoveClient forgets a closed event stream
func (ht *HTTPTransport) RemoveClient(client server.Client) {
	ht.cmu.Lock()
	defer ht.cmu.Unlock()
	delete(ht.clients, client.Meta().Id)
}
