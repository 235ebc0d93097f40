package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
)

func newTestClient(t *testing.T) (*MCPClient, *server.Coordinator) {
	t.Helper()
	broker := server.NewBroker()
	coordinator := server.NewCoordinator(server.NewDeviceRegistry(), broker)
	svc := services.NewServiceManager(coordinator, nil, services.Options{DeviceDelay: time.Millisecond}).GetServices()

	client := NewMCPClient(svc, NewMCPServer("iothub-test", "test"))
	broker.Subscribe(proto.AllEvents, client)
	return client, coordinator
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected tool result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestRegisterSendUnregister(t *testing.T) {
	client, coordinator := newTestClient(t)
	ctx := context.Background()

	result, err := client.handleRegisterDevice(ctx, callRequest("register_device", map[string]any{
		"kind": "smart_speaker",
		"name": "Kitchen speaker",
	}))
	if err != nil || result.IsError {
		t.Fatalf("Unexpected failure: %v %s", err, resultText(t, result))
	}
	var device services.DeviceInfo
	if err := json.Unmarshal([]byte(resultText(t, result)), &device); err != nil {
		t.Fatalf("Expected device JSON: %v", err)
	}
	if device.ID != 1 || device.Name != "Kitchen speaker" {
		t.Errorf("Unexpected device %+v", device)
	}

	result, _ = client.handleSendMessage(ctx, callRequest("send_message", map[string]any{
		"device_id": float64(1),
		"type":      "PLAY_SONG",
		"data":      "Clair de Lune",
	}))
	if result.IsError || !strings.Contains(resultText(t, result), "handled PLAY_SONG") {
		t.Errorf("Unexpected send result %q", resultText(t, result))
	}

	result, _ = client.handleUnregisterDevice(ctx, callRequest("unregister_device", map[string]any{"device_id": float64(1)}))
	if result.IsError {
		t.Errorf("Unexpected unregister failure %q", resultText(t, result))
	}
	if coordinator.Registery.Len() != 0 {
		t.Error("Expected registry to be empty")
	}

	result, _ = client.handleUnregisterDevice(ctx, callRequest("unregister_device", map[string]any{"device_id": float64(1)}))
	if !result.IsError || !strings.Contains(resultText(t, result), services.ErrCodeNotFound) {
		t.Errorf("Expected NOT_FOUND tool error, got %q", resultText(t, result))
	}
}

func TestToolArgumentErrors(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
	}{
		{"register without kind", client.handleRegisterDevice, map[string]any{}},
		{"register unknown kind", client.handleRegisterDevice, map[string]any{"kind": "toaster"}},
		{"send without id", client.handleSendMessage, map[string]any{"type": "FLUSH"}},
		{"send fractional id", client.handleSendMessage, map[string]any{"device_id": 1.5, "type": "FLUSH"}},
		{"send bad type", client.handleSendMessage, map[string]any{"device_id": float64(1), "type": "DANCE"}},
		{"send unknown device", client.handleSendMessage, map[string]any{"device_id": float64(4), "type": "FLUSH"}},
		{"unregister zero", client.handleUnregisterDevice, map[string]any{"device_id": float64(0)}},
	}
	for _, tc := range cases {
		result, err := tc.handler(ctx, callRequest(tc.name, tc.args))
		if err != nil {
			t.Errorf("%s: expected tool error, got protocol error %v", tc.name, err)
			continue
		}
		if !result.IsError {
			t.Errorf("%s: expected IsError, got %q", tc.name, resultText(t, result))
		}
	}
}

func TestRecentEvents_FromMemory(t *testing.T) {
	client, coordinator := newTestClient(t)
	ctx := context.Background()

	info, _ := coordinator.RegisterDevice(ctx, mustDevice(t))
	coordinator.Dispatch(ctx, proto.NewMessage(info.ID, proto.SwitchOn))
	coordinator.Dispatch(ctx, proto.NewMessage(42, proto.SwitchOn))

	result, _ := client.handleRecentEvents(ctx, callRequest("recent_events", map[string]any{
		"device_id": float64(info.ID),
	}))
	var body struct {
		Source string        `json:"source"`
		Events []proto.Event `json:"events"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &body); err != nil {
		t.Fatalf("Expected JSON: %v", err)
	}
	if body.Source != "memory" || len(body.Events) != 2 {
		t.Fatalf("Unexpected events %+v", body)
	}
	if body.Events[0].Type != proto.EventMessageDispatched {
		t.Errorf("Expected newest first, got %s", body.Events[0].Type)
	}

	result, _ = client.handleRecentEvents(ctx, callRequest("recent_events", map[string]any{
		"type":  "message.failed",
		"limit": float64(5),
	}))
	json.Unmarshal([]byte(resultText(t, result)), &body)
	if len(body.Events) != 1 || body.Events[0].DeviceID != 42 {
		t.Errorf("Unexpected failed events %+v", body.Events)
	}
}

func TestSend_BoundsBuffer(t *testing.T) {
	client, _ := newTestClient(t)
	client.capacity = 3
	for i := 1; i <= 5; i++ {
		client.Send(proto.NewEvent(proto.EventMessageDispatched, proto.DeviceID(i)))
	}
	events := client.recentEvents(services.EventQuery{})
	if len(events) != 3 || events[0].DeviceID != 5 || events[2].DeviceID != 3 {
		t.Errorf("Expected last three events newest first, got %+v", events)
	}
}

func TestSystemStatus(t *testing.T) {
	client, coordinator := newTestClient(t)
	coordinator.RegisterDevice(context.Background(), mustDevice(t))

	result, _ := client.handleGetSystemStatus(context.Background(), callRequest("get_system_status", nil))
	var status map[string]any
	if err := json.Unmarshal([]byte(resultText(t, result)), &status); err != nil {
		t.Fatalf("Expected JSON: %v", err)
	}
	devices, _ := status["devices"].(map[string]any)
	if devices["count"] != float64(1) {
		t.Errorf("Unexpected status %v", status)
	}
	if _, ok := status["transports"]; !ok {
		t.Error("Expected transports by default")
	}
}

func TestToolsAreListed(t *testing.T) {
	client, _ := newTestClient(t)
	response := client.mcpServer.HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	raw, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	for _, name := range []string{"list_devices", "register_device", "unregister_device", "send_message", "recent_events", "get_system_status"} {
		if !strings.Contains(string(raw), `"`+name+`"`) {
			t.Errorf("Expected tool %s in %s", name, raw)
		}
	}
}

func mustDevice(t *testing.T) server.Device {
	t.Helper()
	d, err := services.SimulatedFactory("hue_light", "", time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to build device: %v", err)
	}
	return d
}
