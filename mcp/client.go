package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
)

const defaultRecentEvents = 100

// MCPClient exposes the hub as MCP tools. It is also a broker client and
// keeps the latest events in memory so recent_events works without a
// journal.
type MCPClient struct {
	mcpServer *MCPServer
	services  *services.ServiceContainer

	server.ClientMetadata

	recentMu sync.Mutex
	recent   []proto.Event
	capacity int
}

// NewMCPClient registers the hub tools on mcpServer.
func NewMCPClient(serviceContainer *services.ServiceContainer, mcpServer *MCPServer) *MCPClient {
	client := &MCPClient{
		services:  serviceContainer,
		mcpServer: mcpServer,
		capacity:  defaultRecentEvents,
		ClientMetadata: server.ClientMetadata{
			Id:   "mcp-client",
			Name: "MCP Interface Client",
			Subs: make(map[string]struct{}),
		},
	}

	client.registerDeviceTools()
	client.registerMessagingTools()
	client.registerSystemTools()
	return client
}

// Start serves MCP on stdio until stdin closes.
func (m *MCPClient) Start() error {
	return m.mcpServer.Run()
}

// Meta returns client metadata (implements server.Client)
func (m *MCPClient) Meta() *server.ClientMetadata {
	return &m.ClientMetadata
}

// Send records a broker event (implements server.Client)
func (m *MCPClient) Send(event proto.Event) error {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	m.recent = append(m.recent, event)
	if len(m.recent) > m.capacity {
		m.recent = m.recent[len(m.recent)-m.capacity:]
	}
	return nil
}

// recentEvents returns buffered events newest first, filtered like the journal.
func (m *MCPClient) recentEvents(query services.EventQuery) []proto.Event {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	limit := query.Limit
	if limit <= 0 {
		limit = len(m.recent)
	}
	result := []proto.Event{}
	for i := len(m.recent) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.recent[i]
		if query.DeviceID != 0 && e.DeviceID != query.DeviceID {
			continue
		}
		if query.Type != "" && string(e.Type) != query.Type {
			continue
		}
		result = append(result, e)
	}
	return result
}

// registerDeviceTools registers MCP tools for device management
func (m *MCPClient) registerDeviceTools() {
	listDevicesTool := mcp.NewTool("list_devices",
		mcp.WithDescription("List all registered devices with their ids, names and kinds"),
	)
	m.mcpServer.AddTool(listDevicesTool, m.handleListDevices)

	registerTool := mcp.NewTool("register_device",
		mcp.WithDescription("Create a simulated device and register it; waits until it is connected"),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Device kind"),
			mcp.Enum(m.services.Device.ListKinds()...),
		),
		mcp.WithString("name",
			mcp.Description("Display name, defaults to the kind's name"),
		),
		mcp.WithNumber("delay_ms",
			mcp.Description("Simulated operation time in milliseconds"),
			mcp.Min(0),
		),
	)
	m.mcpServer.AddTool(registerTool, m.handleRegisterDevice)

	unregisterTool := mcp.NewTool("unregister_device",
		mcp.WithDescription("Disconnect a device and remove it from the registry"),
		mcp.WithNumber("device_id",
			mcp.Required(),
			mcp.Description("Device id returned by register_device or list_devices"),
		),
	)
	m.mcpServer.AddTool(unregisterTool, m.handleUnregisterDevice)
}

// registerMessagingTools registers MCP tools for messages and events
func (m *MCPClient) registerMessagingTools() {
	sendTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a device and wait for it to be handled"),
		mcp.WithNumber("device_id",
			mcp.Required(),
			mcp.Description("Target device id"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Message type"),
			mcp.Enum(m.services.Messaging.MessageTypes()...),
		),
		mcp.WithString("data",
			mcp.Description("Optional payload, e.g. a song name for PLAY_SONG"),
		),
	)
	m.mcpServer.AddTool(sendTool, m.handleSendMessage)

	eventsTool := mcp.NewTool("recent_events",
		mcp.WithDescription("List recent hub events, newest first"),
		mcp.WithNumber("device_id",
			mcp.Description("Only events for this device"),
		),
		mcp.WithString("type",
			mcp.Description("Only events of this type"),
			mcp.Enum(string(proto.EventDeviceRegistered), string(proto.EventDeviceUnregistered),
				string(proto.EventMessageDispatched), string(proto.EventMessageFailed)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events"),
			mcp.Min(1),
		),
	)
	m.mcpServer.AddTool(eventsTool, m.handleRecentEvents)
}

// registerSystemTools registers MCP tools for system management
func (m *MCPClient) registerSystemTools() {
	statusTool := mcp.NewTool("get_system_status",
		mcp.WithDescription("Get overall hub health and statistics"),
		mcp.WithBoolean("include_transports",
			mcp.Description("Include transport information"),
		),
	)
	m.mcpServer.AddTool(statusTool, m.handleGetSystemStatus)
}

// Tool handlers report failures as tool errors so the model can react to them.

func (m *MCPClient) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := m.services.Device.ListDevices()
	if err != nil {
		return toolError("Error listing devices", err), nil
	}
	return jsonResult(map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

func (m *MCPClient) handleRegisterDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required and must be a string"), nil
	}

	device, err := m.services.Device.RegisterDevice(ctx, services.RegisterRequest{
		Kind:    kind,
		Name:    request.GetString("name", ""),
		DelayMs: int64(request.GetFloat("delay_ms", 0)),
	})
	if err != nil {
		return toolError("Failed to register device", err), nil
	}
	return jsonResult(device)
}

func (m *MCPClient) handleUnregisterDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, result := requireDeviceID(request)
	if result != nil {
		return result, nil
	}
	if err := m.services.Device.UnregisterDevice(ctx, id); err != nil {
		return toolError("Failed to unregister device", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Device %s unregistered", id)), nil
}

func (m *MCPClient) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, result := requireDeviceID(request)
	if result != nil {
		return result, nil
	}
	msgType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required and must be a string"), nil
	}

	start := time.Now()
	err = m.services.Messaging.SendMessage(ctx, services.MessageRequest{
		Target: id,
		Type:   msgType,
		Data:   request.GetString("data", ""),
	})
	if err != nil {
		return toolError("Failed to send message", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Device %s handled %s in %s", id, msgType, time.Since(start).Round(time.Millisecond))), nil
}

func (m *MCPClient) handleRecentEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := services.EventQuery{
		Type:  request.GetString("type", ""),
		Limit: request.GetInt("limit", 20),
	}
	if raw := request.GetInt("device_id", 0); raw != 0 {
		if raw < 0 {
			return mcp.NewToolResultError("device_id must be positive"), nil
		}
		query.DeviceID = proto.DeviceID(raw)
	}

	if !m.services.Event.Enabled() {
		return jsonResult(map[string]interface{}{
			"source": "memory",
			"events": m.recentEvents(query),
		})
	}

	events, err := m.services.Event.RecentEvents(ctx, query)
	if err != nil {
		return toolError("Failed to read events", err), nil
	}
	return jsonResult(map[string]interface{}{
		"source": "journal",
		"events": events,
	})
}

func (m *MCPClient) handleGetSystemStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeTransports := request.GetBool("include_transports", true)

	status := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"journal":   m.services.Event.Enabled(),
	}

	if devices, err := m.services.Device.ListDevices(); err == nil {
		status["devices"] = map[string]interface{}{
			"count": len(devices),
			"list":  devices,
		}
	}

	if includeTransports {
		if transports, err := m.services.Transport.ListTransports(); err == nil {
			status["transports"] = map[string]interface{}{
				"count": len(transports),
				"list":  transports,
			}
		}
		if stats, err := m.services.Transport.GetTransportStats(); err == nil {
			status["stats"] = stats
		}
	}

	return jsonResult(status)
}

func requireDeviceID(request mcp.CallToolRequest) (proto.DeviceID, *mcp.CallToolResult) {
	raw, err := request.RequireFloat("device_id")
	if err != nil {
		return 0, mcp.NewToolResultError("device_id is required and must be a number")
	}
	if raw < 1 || raw != float64(uint64(raw)) {
		return 0, mcp.NewToolResultError("device_id must be a positive integer")
	}
	return proto.DeviceID(raw), nil
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	slog.Debug("MCP tool failed", "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s [%s]: %v", prefix, services.ErrorCode(err), err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}
