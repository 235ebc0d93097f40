// Package devices provides simulated smart-home devices. Each simulated
// operation logs what it does and waits for a fixed delay in place of real
// device I/O.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mbocsi/iothub/proto"
)

// DefaultDelay is how long every simulated operation takes.
const DefaultDelay = 500 * time.Millisecond

const (
	KindHueLight     = "hue_light"
	KindSmartSpeaker = "smart_speaker"
	KindSmartToilet  = "smart_toilet"
)

var displayNames = map[string]string{
	KindHueLight:     "Hue Light",
	KindSmartSpeaker: "Smart Speaker",
	KindSmartToilet:  "Smart Toilet",
}

// Kinds lists the device variants New understands.
func Kinds() []string {
	kinds := make([]string, 0, len(displayNames))
	for kind := range displayNames {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Simulated is a device handle whose operations only log and sleep.
type Simulated struct {
	kind   string
	name   string
	delay  time.Duration
	logger *slog.Logger
}

// New builds a simulated device of the given kind. An empty name falls back
// to the kind's display name, a non-positive delay to DefaultDelay.
func New(kind, name string, delay time.Duration) (*Simulated, error) {
	display, ok := displayNames[kind]
	if !ok {
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
	if name == "" {
		name = display
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Simulated{
		kind:   kind,
		name:   name,
		delay:  delay,
		logger: slog.Default().With("device", name, "kind", kind),
	}, nil
}

func NewHueLight(delay time.Duration) *Simulated {
	d, _ := New(KindHueLight, "", delay)
	return d
}

func NewSmartSpeaker(delay time.Duration) *Simulated {
	d, _ := New(KindSmartSpeaker, "", delay)
	return d
}

func NewSmartToilet(delay time.Duration) *Simulated {
	d, _ := New(KindSmartToilet, "", delay)
	return d
}

func (s *Simulated) Name() string {
	return s.name
}

func (s *Simulated) Kind() string {
	return s.kind
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.logger.Info("Connecting")
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.logger.Info("Connected")
	return nil
}

func (s *Simulated) Disconnect(ctx context.Context) error {
	s.logger.Info("Disconnecting")
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.logger.Info("Disconnected")
	return nil
}

func (s *Simulated) HandleMessage(ctx context.Context, t proto.MessageType, data string) error {
	s.logger.Info("Handling message", "type", t, "data", data)
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.logger.Info("Received message", "type", t)
	return nil
}

func (s *Simulated) wait(ctx context.Context) error {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
