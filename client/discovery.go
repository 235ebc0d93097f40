package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	HTTPServiceType = "_iothub-http._tcp"
	WSServiceType   = "_iothub-ws._tcp"
)

// DiscoveredService represents a hub found on the local network
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string // "http" or "websocket"
	TXTRecords  []string
}

// URL returns a base URL for the service.
func (s *DiscoveredService) URL() string {
	scheme := "http"
	if s.Transport == "websocket" {
		scheme = "ws"
	}
	return scheme + "://" + net.JoinHostPort(strings.Trim(s.Address, "[]"), strconv.Itoa(s.Port))
}

func serviceFromEntry(serviceType string, entry *mdns.ServiceEntry) (*DiscoveredService, error) {
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	} else {
		return nil, fmt.Errorf("no valid address found for service")
	}

	var transport string
	switch serviceType {
	case HTTPServiceType:
		transport = "http"
	case WSServiceType:
		transport = "websocket"
	}

	return &DiscoveredService{
		ServiceName: entry.Name,
		Address:     address,
		Port:        entry.Port,
		Transport:   transport,
		TXTRecords:  entry.InfoFields,
	}, nil
}

// discoverService discovers a specific hub service type using mDNS
func discoverService(serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout

	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err)
		}
	}()

	deadline := time.After(timeout)
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no %s service found", serviceType)
			}
			if !strings.Contains(entry.Name, serviceType) {
				continue
			}
			service, err := serviceFromEntry(serviceType, entry)
			if err != nil {
				slog.Debug("Skipping mDNS entry", "name", entry.Name, "error", err)
				continue
			}
			slog.Info("Discovered hub",
				"service_name", service.ServiceName,
				"address", service.Address,
				"port", service.Port,
				"transport", service.Transport,
			)
			return service, nil

		case <-deadline:
			return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
		}
	}
}

// DiscoverHTTPService discovers the first hub advertising its HTTP API
func DiscoverHTTPService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(HTTPServiceType, timeout)
}

// DiscoverWebSocketService discovers the first hub advertising a websocket transport
func DiscoverWebSocketService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(WSServiceType, timeout)
}
