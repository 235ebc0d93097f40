package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbocsi/iothub/client"
	"github.com/mbocsi/iothub/config"
	"github.com/mbocsi/iothub/events"
	"github.com/mbocsi/iothub/journal"
	"github.com/mbocsi/iothub/logging"
	"github.com/mbocsi/iothub/mcp"
	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
	"github.com/mbocsi/iothub/telemetry"
	"github.com/mbocsi/iothub/web"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol
	if cfg.MCPEnabled {
		cfg.LogOutput = "stderr"
	}
	slog.SetDefault(logging.New(cfg, version))

	if err := run(cfg); err != nil {
		slog.Error("Hub exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	hub := server.NewHubServer(server.HubServerOptions{ShutdownTimeout: cfg.ShutdownTimeout})
	broker := hub.GetBroker()

	var sinks []*events.Forwarder
	closeSinks := func() {
		for _, f := range sinks {
			f.Close()
		}
	}
	defer closeSinks()
	forward := func(name string, publisher events.EventPublisher) {
		f := events.NewForwarder(name, publisher, 0)
		broker.Subscribe(proto.AllEvents, f.Client())
		sinks = append(sinks, f)
	}

	var store services.EventStore
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()
		// The journal is written synchronously so /api/events reflects
		// every completed operation.
		broker.Subscribe(proto.AllEvents, server.NewSinkClient("journal", func(e proto.Event) error {
			return j.Record(context.Background(), e)
		}))
		store = j
		slog.Info("Event journal enabled", "path", j.Path())
	}

	if cfg.InfluxURL != "" {
		tc, err := telemetry.Connect(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, func(err error) {
			slog.Warn("Telemetry write failed", "error", err.Error())
		})
		if err != nil {
			slog.Warn("Telemetry disabled", "error", err.Error())
		} else {
			defer tc.Close()
			forward("telemetry", tc)
		}
	}

	if cfg.NATSURL != "" {
		nc, err := events.ConnectComms(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			slog.Warn("NATS publishing disabled", "error", err.Error())
		} else {
			defer nc.Drain()
			forward("nats", events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.NATSSubject}))
		}
	}

	if cfg.MQTTBroker != "" {
		mc, publisher, err := events.ConnectMQTT(events.MQTTOptions{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         byte(cfg.MQTTQoS),
		})
		if err != nil {
			slog.Warn("MQTT publishing disabled", "error", err.Error())
		} else {
			defer events.DisconnectMQTT(mc)
			forward("mqtt", publisher)
		}
	}

	svc := services.NewServiceManager(hub.Coordinator(), store, services.Options{
		DeviceDelay:      cfg.DeviceDelay,
		OperationTimeout: cfg.OperationTimeout,
	}).GetServices()

	var advertised []server.AdvertisedService
	if cfg.WSAddr != "" {
		ws := server.NewWSTransport(cfg.WSAddr, broker)
		ws.SetName("Event stream")
		hub.RegisterTransport(ws)
		advertised = append(advertised, server.AdvertisedService{Service: client.WSServiceType, Addr: cfg.WSAddr})
	}
	if cfg.HTTPAddr != "" {
		httpTransport := web.NewHTTPTransport(cfg.HTTPAddr, web.NewWebClient(svc, broker))
		httpTransport.SetName("HTTP API")
		hub.RegisterTransport(httpTransport)
		advertised = append(advertised, server.AdvertisedService{Service: client.HTTPServiceType, Addr: cfg.HTTPAddr})
	}

	if cfg.MDNSEnabled && len(advertised) > 0 {
		for i := range advertised {
			advertised[i].TXT = []string{"version=" + version}
		}
		adv, err := server.NewAdvertiser(cfg.ServiceName, advertised...)
		if err != nil {
			slog.Warn("mDNS advertising disabled", "error", err.Error())
		} else {
			defer adv.Shutdown()
		}
	}

	if cfg.MCPEnabled {
		mcpClient := mcp.NewMCPClient(svc, mcp.NewMCPServer(cfg.ServiceName, version))
		broker.Subscribe(proto.AllEvents, mcpClient)
		go func() {
			if err := mcpClient.Start(); err != nil {
				slog.Error("MCP server stopped", "error", err.Error())
			}
		}()
	}

	if cfg.DevicesFile != "" {
		if err := registerInventory(svc.Device, hub.Coordinator(), cfg.DevicesFile, cfg.ShutdownTimeout); err != nil {
			return err
		}
	}

	slog.Info("Hub started", "service", cfg.ServiceName, "http", cfg.HTTPAddr, "ws", cfg.WSAddr, "mcp", cfg.MCPEnabled)
	err := hub.Start()
	// Drain queued events before the publishers below are closed.
	closeSinks()
	return err
}

// registerInventory registers every device listed in the inventory file.
// A failure disconnects the devices registered before it.
func registerInventory(devices services.DeviceService, coordinator *server.Coordinator, path string, shutdownTimeout time.Duration) error {
	inv, err := config.LoadInventory(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, spec := range inv.Devices {
		info, err := devices.RegisterDevice(ctx, services.RegisterRequest{
			Kind:    spec.Kind,
			Name:    spec.Name,
			DelayMs: time.Duration(spec.Delay).Milliseconds(),
		})
		if err != nil {
			err = fmt.Errorf("registering %s %q: %w", spec.Kind, spec.Name, err)
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if serr := coordinator.Shutdown(sctx); serr != nil {
				slog.Error("Disconnecting inventory devices failed", "error", serr.Error())
			}
			return err
		}
		slog.Info("Registered inventory device", "id", info.ID, "name", info.Name, "kind", info.Kind)
	}
	return nil
}
