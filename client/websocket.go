package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/iothub/proto"
)

// Frame is one websocket frame from the hub: an event or an ack.
type Frame struct {
	Event *proto.Event
	Ack   *proto.Ack
}

// EventStream is a websocket connection to the hub's WS transport.
type EventStream struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DialEvents connects to addr (ws://host:port or host:port) subscribed to
// topics. No topics means every event.
func DialEvents(ctx context.Context, addr string, topics ...string) (*EventStream, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if len(topics) > 0 {
		q := u.Query()
		q.Set("topics", strings.Join(topics, ","))
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Send writes a message; its ack arrives later as a Frame.
func (s *EventStream) Send(msg proto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	slog.Debug("Sent WebSocket Message", "target", msg.Target, "type", msg.Type)
	return nil
}

// Read blocks for the next frame.
func (s *EventStream) Read() (Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return Frame{}, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return Frame{}, fmt.Errorf("connection closed: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if head.Type == "ack" {
		var ack proto.Ack
		if err := json.Unmarshal(data, &ack); err != nil {
			return Frame{}, fmt.Errorf("invalid ack: %w", err)
		}
		return Frame{Ack: &ack}, nil
	}

	var event proto.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Frame{}, fmt.Errorf("invalid event: %w", err)
	}
	return Frame{Event: &event}, nil
}

// Close sends a close frame and closes the connection.
func (s *EventStream) Close() error {
	s.wmu.Lock()
	err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.wmu.Unlock()
	if err != nil {
		slog.Warn("Failed to send close message", "error", err)
	}
	return s.conn.Close()
}
