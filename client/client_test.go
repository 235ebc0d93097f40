package client

import (
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/iothub/devices"
	"github.com/mbocsi/iothub/journal"
	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
	"github.com/mbocsi/iothub/web"
)

type hub struct {
	broker *server.Broker
	coord  *server.Coordinator
	api    *httptest.Server
}

func newHub(t *testing.T) *hub {
	t.Helper()
	broker := server.NewBroker()
	coord := server.NewCoordinator(server.NewDeviceRegistry(), broker)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	broker.Subscribe(proto.AllEvents, server.NewSinkClient("journal", func(e proto.Event) error {
		return j.Record(context.Background(), e)
	}))

	svc := services.NewServiceManager(coord, j, services.Options{DeviceDelay: time.Millisecond}).GetServices()
	wc := web.NewWebClient(svc, broker)
	api := httptest.NewServer(wc.Routes())
	t.Cleanup(func() {
		wc.CloseStreams()
		api.Close()
	})
	return &hub{broker: broker, coord: coord, api: api}
}

func TestClient_DeviceLifecycle(t *testing.T) {
	h := newHub(t)
	c := NewClient(h.api.URL)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, RegisterRequest{Kind: "hue_light", Name: "Desk"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if device.Name != "Desk" || device.Kind != "hue_light" || device.ID == 0 {
		t.Errorf("Unexpected device %+v", device)
	}

	devices, err := c.ListDevices(ctx)
	if err != nil || len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %v (%v)", devices, err)
	}

	got, err := c.GetDevice(ctx, device.ID)
	if err != nil || got.ID != device.ID {
		t.Errorf("Expected device %d, got %+v (%v)", device.ID, got, err)
	}

	if err := c.Send(ctx, proto.NewMessage(device.ID, proto.SwitchOn)); err != nil {
		t.Errorf("Unexpected send error: %v", err)
	}

	if err := c.UnregisterDevice(ctx, device.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := c.GetDevice(ctx, device.ID); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestClient_Errors(t *testing.T) {
	h := newHub(t)
	c := NewClient(strings.TrimPrefix(h.api.URL, "http://"))
	ctx := context.Background()

	_, err := c.RegisterDevice(ctx, RegisterRequest{Kind: "coffee_maker"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != 400 || apiErr.Code != services.ErrCodeInvalidInput {
		t.Errorf("Unexpected error %+v", apiErr)
	}

	if err := c.Send(ctx, proto.NewMessage(42, proto.SwitchOn)); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestClient_EventsAndKinds(t *testing.T) {
	h := newHub(t)
	c := NewClient(h.api.URL)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, RegisterRequest{Kind: "smart_speaker"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	c.Send(ctx, proto.NewMessage(device.ID, proto.PlaySong, "song"))

	events, err := c.Events(ctx, EventFilter{DeviceID: device.ID, Limit: 10})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Type != proto.EventMessageDispatched {
		t.Errorf("Expected newest-first dispatched then registered, got %+v", events)
	}

	filtered, _ := c.Events(ctx, EventFilter{Type: proto.EventDeviceRegistered})
	if len(filtered) != 1 {
		t.Errorf("Expected 1 registered event, got %d", len(filtered))
	}

	kinds, types, err := c.Kinds(ctx)
	if err != nil || len(kinds) != 3 || len(types) == 0 {
		t.Errorf("Unexpected kinds %v types %v (%v)", kinds, types, err)
	}

	health, err := c.Health(ctx)
	if err != nil || health["status"] != "ok" {
		t.Errorf("Unexpected health %v (%v)", health, err)
	}
}

func TestEventStream(t *testing.T) {
	h := newHub(t)
	transport := server.NewWSTransport("test", h.broker)
	h.coord.RegisterTransport(transport)
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := DialEvents(ctx, srv.URL, string(proto.EventDeviceRegistered))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer stream.Close()

	// Subscription completes on the server goroutine.
	deadline := time.Now().Add(time.Second)
	for len(h.broker.Subs(string(proto.EventDeviceRegistered))) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Stream was not subscribed in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	info, err := h.coord.RegisterDevice(ctx, devices.NewHueLight(time.Millisecond))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	frame, err := stream.Read()
	if err != nil || frame.Event == nil || frame.Event.DeviceID != info.ID {
		t.Fatalf("Expected registered event, got %+v (%v)", frame, err)
	}

	if err := stream.Send(proto.NewMessage(info.ID, proto.SwitchOn)); err != nil {
		t.Fatalf("Unexpected send error: %v", err)
	}
	frame, err = stream.Read()
	if err != nil || frame.Ack == nil || !frame.Ack.OK {
		t.Fatalf("Expected ack, got %+v (%v)", frame, err)
	}
}

func TestServiceFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "hub._iothub-http._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8080,
		InfoFields: []string{"version=dev"},
	}
	svc, err := serviceFromEntry(HTTPServiceType, entry)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if svc.Transport != "http" || svc.URL() != "http://192.168.1.20:8080" {
		t.Errorf("Unexpected service %+v url %s", svc, svc.URL())
	}

	v6 := &mdns.ServiceEntry{Name: "hub", AddrV6: net.ParseIP("fe80::1"), Port: 8081}
	svc, err = serviceFromEntry(WSServiceType, v6)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if svc.URL() != "ws://[fe80::1]:8081" {
		t.Errorf("Unexpected url %s", svc.URL())
	}

	if _, err := serviceFromEntry(HTTPServiceType, &mdns.ServiceEntry{Name: "hub"}); err == nil {
		t.Error("Expected entry without address to fail")
	}
}
