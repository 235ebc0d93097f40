package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mbocsi/iothub/proto"
)

func TestSSEClient_Send(t *testing.T) {
	rec := httptest.NewRecorder()
	client, err := NewSSEClient(context.Background(), rec)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	broker := NewBroker()
	broker.Subscribe(string(proto.EventDeviceRegistered), client)
	event := proto.NewEvent(proto.EventDeviceRegistered, 5)
	broker.Publish(event)

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: device.registered\ndata: {") {
		t.Errorf("Unexpected SSE frame %q", body)
	}
	if !strings.Contains(body, event.ID) || !strings.HasSuffix(body, "\n\n") {
		t.Errorf("Expected event JSON terminated by a blank line, got %q", body)
	}
	if !rec.Flushed {
		t.Error("Expected response to be flushed")
	}
}

func TestSSEClient_ClosedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	client, _ := NewSSEClient(ctx, rec)
	cancel()

	if err := client.Send(proto.NewEvent(proto.EventMessageFailed, 1)); err == nil {
		t.Error("Expected send on closed stream to fail")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", rec.Body.String())
	}
}

func TestSSEClient_Comment(t *testing.T) {
	rec := httptest.NewRecorder()
	client, _ := NewSSEClient(context.Background(), rec)
	client.Comment("ping")
	if rec.Body.String() != ": ping\n\n" {
		t.Errorf("Unexpected comment frame %q", rec.Body.String())
	}
}

func TestSSEClient_NoWritesAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	client, _ := NewSSEClient(context.Background(), rec)
	client.Close()
	client.Close()

	if err := client.Send(proto.NewEvent(proto.EventDeviceRegistered, 1)); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
	if err := client.Comment("keepalive"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", rec.Body.String())
	}
}
