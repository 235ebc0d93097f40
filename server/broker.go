package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mbocsi/iothub/proto"
)

// Broker fans lifecycle events out to subscribed clients. Topics are event
// types; proto.AllEvents subscribes to every type.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[Client]struct{} // Map topic to hashset of Clients
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[Client]struct{}),
	}
}

func (b *Broker) Subscribe(topic string, client Client) {
	slog.Debug("Subscribing", "topic", topic, "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Client]struct{})
	}
	b.subs[topic][client] = struct{}{}

	meta := client.Meta()
	meta.Mu.Lock()
	meta.Subs[topic] = struct{}{}
	meta.Mu.Unlock()
}

// Publish sends the event to every client subscribed to its type or to the
// wildcard. A client subscribed to both receives it once.
func (b *Broker) Publish(event proto.Event) {
	b.mu.RLock()
	targets := make([]Client, 0, len(b.subs[string(event.Type)])+len(b.subs[proto.AllEvents]))
	seen := make(map[Client]struct{})
	for _, topic := range []string{string(event.Type), proto.AllEvents} {
		for client := range b.subs[topic] {
			if _, ok := seen[client]; ok {
				continue
			}
			seen[client] = struct{}{}
			targets = append(targets, client)
		}
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, client := range targets {
		if err := client.Send(event); err != nil {
			if errors.Is(err, ErrQueueFull) {
				slog.Debug("Subscriber queue full, event dropped", "type", event.Type, "client", client.Meta().Id)
				continue
			}
			slog.Warn("There was an error publishing an event to a subscriber", "type", event.Type, "client", client.Meta().Id, "error", err.Error())
			continue
		}
		sentCount++
	}
	slog.Debug("Event published",
		"type", event.Type,
		"device", event.DeviceID,
		"subscribers", sentCount,
	)
}

func (b *Broker) Unsubscribe(topic string, client Client) {
	slog.Debug("Unsubscribing", "topic", topic, "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[topic]; ok {
		if _, exists := subs[client]; exists {
			delete(subs, client)
		} else {
			slog.Warn("Did not find client in topic to unsubscribe", "topic", topic, "client", client.Meta().Id)
		}
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}

	meta := client.Meta()
	meta.Mu.Lock()
	delete(meta.Subs, topic)
	meta.Mu.Unlock()
}

// UnsubscribeAll drops the client from every topic it is subscribed to.
func (b *Broker) UnsubscribeAll(client Client) {
	meta := client.Meta()
	meta.Mu.RLock()
	topics := make([]string, 0, len(meta.Subs))
	for topic := range meta.Subs {
		topics = append(topics, topic)
	}
	meta.Mu.RUnlock()

	for _, topic := range topics {
		b.Unsubscribe(topic, client)
	}
}

// Subs returns a copy of the clients subscribed to topic.
func (b *Broker) Subs(topic string) map[Client]struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make(map[Client]struct{}, len(b.subs[topic]))
	for client := range b.subs[topic] {
		subs[client] = struct{}{}
	}
	return subs
}
