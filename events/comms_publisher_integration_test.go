package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/mbocsi/iothub/proto"
)

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   commsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := ConnectComms(ns.ClientURL(), "iothub-test")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func subscribe(t *testing.T, nc *comms.Conn, subject string) <-chan proto.Event {
	t.Helper()
	received := make(chan proto.Event, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event proto.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("events:comms_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	if err := nc.Flush(); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - flush: %v", err)
	}
	return received
}

func waitEvent(t *testing.T, ch <-chan proto.Event) proto.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timed out waiting for event")
	}
	return proto.Event{}
}

func TestCommsPublisher_PublishEvent_BothSubjects(t *testing.T) {
	nc := startTestServer(t)
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Subject: "hub.test"})

	granular := subscribe(t, nc, "hub.test.message.dispatched")
	base := subscribe(t, nc, "hub.test")

	msg := proto.NewMessage(4, proto.PlaySong, "Toxic")
	event := proto.NewEvent(proto.EventMessageDispatched, 4)
	event.Message = &msg

	if err := publisher.PublishEvent(context.Background(), &event); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - publish: %v", err)
	}

	for _, ch := range []<-chan proto.Event{granular, base} {
		got := waitEvent(t, ch)
		if got.ID != event.ID || got.Message == nil || got.Message.Data != "Toxic" {
			t.Errorf("events:comms_publisher_integration_test - unexpected event %+v", got)
		}
	}
}

func TestCommsPublisher_DefaultSubject(t *testing.T) {
	p := NewCommsPublisher(nil, nil)
	if got := p.TypeSubject(proto.EventDeviceRegistered); got != "iothub.events.device.registered" {
		t.Errorf("events:comms_publisher_integration_test - unexpected subject %q", got)
	}
}
