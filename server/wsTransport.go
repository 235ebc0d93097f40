package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/iothub/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WSTransport streams events to websocket clients and dispatches the
// messages they send.
type WSTransport struct {
	Addr      string
	server    *http.Server
	broker    *Broker
	onMessage func(context.Context, proto.Message) error

	name        string
	description string
	clients     map[string]Client
	cmu         sync.RWMutex

	maxClients int
	connected  bool
}

func NewWSTransport(addr string, broker *Broker) *WSTransport {
	return &WSTransport{
		Addr:       addr,
		broker:     broker,
		maxClients: 16,
		clients:    make(map[string]Client),
	}
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket server", "addr", t.Addr)

	if t.onMessage == nil {
		return fmt.Errorf("The OnMessage function is not defined. This transport is likely being called outside of the server coordinator.")
	}

	t.server = &http.Server{
		Addr:    t.Addr,
		Handler: t.Handler(),
	}

	t.cmu.Lock()
	t.connected = true
	t.cmu.Unlock()

	err := t.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		t.cmu.Lock()
		t.connected = false
		t.cmu.Unlock()
		return err
	}

	return nil
}

// Handler serves the websocket endpoint; exposed so it can be mounted or tested.
func (t *WSTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWebSocket)
	return mux
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t.cmu.RLock()
	clientCount := len(t.clients)
	t.cmu.RUnlock()

	if clientCount >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	go t.handleConnection(conn, r.RemoteAddr, parseTopics(r.URL.Query().Get("topics")))
}

func parseTopics(raw string) []string {
	var topics []string
	for _, topic := range strings.Split(raw, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 {
		return []string{proto.AllEvents}
	}
	return topics
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, remoteAddr string, topics []string) {
	slog.Info("WebSocket client connected", "addr", remoteAddr, "topics", topics)

	client := NewWSClient(conn, t)
	events := NewQueuedClient(client, DefaultClientQueue)
	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup

	defer func() {
		cancel()
		inflight.Wait()

		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		if t.broker != nil {
			t.broker.UnsubscribeAll(events)
		}

		conn.Close()
		events.Close()
		slog.Info("WebSocket client disconnected", "addr", remoteAddr, "id", client.Id)
	}()

	t.cmu.Lock()
	t.clients[client.Id] = client
	t.cmu.Unlock()

	if t.broker != nil {
		for _, topic := range topics {
			t.broker.Subscribe(topic, events)
		}
	}

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}

		var msg proto.Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Invalid JSON message received", "error", err, "data", string(messageBytes))
			if err := client.sendAck(proto.Ack{OK: false, Error: "invalid message: " + err.Error()}); err != nil {
				break
			}
			continue
		}

		slog.Debug("WebSocket message received", "target", msg.Target, "type", msg.Type, "client", client.Id)

		inflight.Add(1)
		go func(msg proto.Message) {
			defer inflight.Done()
			ack := proto.Ack{Target: msg.Target, OK: true}
			if err := t.onMessage(ctx, msg); err != nil {
				ack.OK = false
				ack.Error = err.Error()
			}
			if err := client.sendAck(ack); err != nil {
				slog.Debug("Failed to send ack", "client", client.Id, "error", err.Error())
			}
		}(msg)
	}
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)
	t.cmu.Lock()
	t.connected = false
	t.cmu.Unlock()
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func(context.Context, proto.Message) error) {
	t.onMessage = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	clients := make(map[string]Client, len(t.clients))
	for id, c := range t.clients {
		clients[id] = c
	}
	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Clients:     clients,
		MaxClients:  t.maxClients,
		Connected:   t.connected,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}
