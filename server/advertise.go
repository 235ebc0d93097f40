package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"
)

// Advertiser announces hub endpoints over mDNS.
type Advertiser struct {
	servers []*mdns.Server
}

// AdvertisedService is one endpoint to announce, e.g. _iothub-http._tcp.
type AdvertisedService struct {
	Service string
	Addr    string // host:port the endpoint listens on
	TXT     []string
}

func servicePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("address %q has no fixed port", addr)
	}
	return port, nil
}

// NewAdvertiser starts one mDNS responder per service. On error the
// already started responders are shut down.
func NewAdvertiser(instance string, services ...AdvertisedService) (*Advertiser, error) {
	a := &Advertiser{}
	for _, svc := range services {
		port, err := servicePort(svc.Addr)
		if err != nil {
			a.Shutdown()
			return nil, err
		}

		zone, err := mdns.NewMDNSService(instance, svc.Service, "", "", port, nil, svc.TXT)
		if err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("mdns service %s: %w", svc.Service, err)
		}

		srv, err := mdns.NewServer(&mdns.Config{Zone: zone})
		if err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("mdns server %s: %w", svc.Service, err)
		}
		a.servers = append(a.servers, srv)
		slog.Info("Advertising over mDNS", "instance", instance, "service", svc.Service, "port", port)
	}
	return a, nil
}

func (a *Advertiser) Shutdown() {
	for _, srv := range a.servers {
		if err := srv.Shutdown(); err != nil {
			slog.Warn("mDNS shutdown failed", "error", err)
		}
	}
	a.servers = nil
}
