package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type HubServerOptions struct {
	Broker          *Broker         // Optional (defaults to new Broker if nil)
	Registry        *DeviceRegistry // Optional (defaults to new Registry if nil)
	Context         context.Context // Optional (defaults to context.Background())
	ShutdownTimeout time.Duration   // Optional (defaults to 10s)
}

type HubServer struct {
	options     HubServerOptions
	coordinator *Coordinator
}

func NewHubServer(opts HubServerOptions) *HubServer {
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Registry == nil {
		opts.Registry = NewDeviceRegistry()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	return &HubServer{
		options:     opts,
		coordinator: NewCoordinator(opts.Registry, opts.Broker),
	}
}

func (s *HubServer) RegisterTransport(t Transport) {
	s.coordinator.RegisterTransport(t)
}

func (s *HubServer) Coordinator() *Coordinator {
	return s.coordinator
}

func (s *HubServer) GetRegistry() *DeviceRegistry {
	return s.options.Registry
}

func (s *HubServer) GetBroker() *Broker {
	return s.options.Broker
}

// Start blocks until the context is cancelled or SIGINT/SIGTERM arrives, then
// stops the transports and disconnects the remaining devices.
func (s *HubServer) Start() error {
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.coordinator.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	if err := s.coordinator.Shutdown(shutdownCtx); err != nil {
		slog.Error("Some devices failed to disconnect", "error", err.Error())
		return err
	}
	slog.Info("Hub stopped")
	return nil
}
