package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/iothub/proto"
)

const writeWait = 5 * time.Second

var errNoConnection = errors.New("websocket connection not established")

type WSClient struct {
	ClientMetadata
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows one concurrent writer
}

func NewWSClient(conn *websocket.Conn, t Transport) *WSClient {
	return &WSClient{
		conn: conn,
		ClientMetadata: ClientMetadata{
			Id:        generateClientId("ws"),
			Name:      "WebSocket Client",
			Subs:      make(map[string]struct{}),
			Transport: t,
		},
	}
}

func (c *WSClient) Send(event proto.Event) error {
	if err := c.writeJSON(event); err != nil {
		return err
	}
	slog.Debug("Sent WebSocket event", "to", c.Id, "type", event.Type, "device", event.DeviceID)
	return nil
}

func (c *WSClient) sendAck(ack proto.Ack) error {
	ack.Type = "ack"
	return c.writeJSON(ack)
}

func (c *WSClient) writeJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.conn == nil {
		return errNoConnection
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *WSClient) Meta() *ClientMetadata {
	return &c.ClientMetadata
}
