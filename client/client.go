// Package client is a Go client for the hub's HTTP API and websocket
// event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbocsi/iothub/proto"
)

const defaultTimeout = 30 * time.Second

// Device mirrors the API's device representation.
type Device struct {
	ID           proto.DeviceID `json:"id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// RegisterRequest asks the hub for a new simulated device.
type RegisterRequest struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	DelayMs int64  `json:"delay_ms,omitempty"`
}

// EventFilter narrows Events. Zero values match everything.
type EventFilter struct {
	DeviceID proto.DeviceID
	Type     proto.EventType
	Limit    int
}

// APIError is a non-2xx response from the hub.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the hub.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient talks to the hub at baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := c.do(ctx, http.MethodGet, "/api/devices", nil, &devices)
	return devices, err
}

func (c *Client) GetDevice(ctx context.Context, id proto.DeviceID) (*Device, error) {
	var device Device
	if err := c.do(ctx, http.MethodGet, "/api/devices/"+id.String(), nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// RegisterDevice returns once the device is connected and registered.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterRequest) (*Device, error) {
	var device Device
	if err := c.do(ctx, http.MethodPost, "/api/devices", req, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (c *Client) UnregisterDevice(ctx context.Context, id proto.DeviceID) error {
	return c.do(ctx, http.MethodDelete, "/api/devices/"+id.String(), nil, nil)
}

// Send delivers a message and returns once the device handled it.
func (c *Client) Send(ctx context.Context, msg proto.Message) error {
	var ack proto.Ack
	if err := c.do(ctx, http.MethodPost, "/api/messages", msg, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("hub: message to %s not acknowledged: %s", msg.Target, ack.Error)
	}
	return nil
}

// Events reads the hub's event journal, newest first.
func (c *Client) Events(ctx context.Context, filter EventFilter) ([]proto.Event, error) {
	q := url.Values{}
	if filter.DeviceID != 0 {
		q.Set("device", filter.DeviceID.String())
	}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var events []proto.Event
	err := c.do(ctx, http.MethodGet, path, nil, &events)
	return events, err
}

// Kinds returns the device kinds and message types the hub accepts.
func (c *Client) Kinds(ctx context.Context) (kinds, messageTypes []string, err error) {
	var body struct {
		Kinds        []string `json:"kinds"`
		MessageTypes []string `json:"message_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/kinds", nil, &body); err != nil {
		return nil, nil, err
	}
	return body.Kinds, body.MessageTypes, nil
}

// Health returns the /healthz document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var health map[string]any
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &health)
	return health, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("hub: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	slog.Debug("Hub API call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hub: decode response: %w", err)
	}
	return nil
}
