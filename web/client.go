package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
)

const defaultKeepAlive = 15 * time.Second

// WebClient serves the JSON API over the service layer and streams broker
// events to SSE subscribers.
type WebClient struct {
	services  *services.ServiceContainer
	broker    *server.Broker
	streams   StreamRegistry
	keepAlive time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// StreamRegistry tracks open event streams. HTTPTransport implements it so
// streams show up as transport clients.
type StreamRegistry interface {
	AddClient(client server.Client)
	RemoveClient(client server.Client)
}

type noStreams struct{}

func (noStreams) AddClient(server.Client)    {}
func (noStreams) RemoveClient(server.Client) {}

// NewWebClient creates the API handler set.
func NewWebClient(serviceContainer *services.ServiceContainer, broker *server.Broker) *WebClient {
	return &WebClient{
		services:  serviceContainer,
		broker:    broker,
		streams:   noStreams{},
		keepAlive: defaultKeepAlive,
		closed:    make(chan struct{}),
	}
}

// CloseStreams ends every open event stream.
func (w *WebClient) CloseStreams() {
	w.closeOnce.Do(func() { close(w.closed) })
}

// SetKeepAlive changes the SSE keepalive interval.
func (w *WebClient) SetKeepAlive(d time.Duration) {
	w.keepAlive = d
}

// Routes returns the HTTP routes for the API
func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", w.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", w.HandleDevices)
		r.Post("/devices", w.HandleRegisterDevice)
		r.Get("/devices/{id}", w.HandleDeviceDetail)
		r.Delete("/devices/{id}", w.HandleUnregisterDevice)
		r.Post("/devices/{id}/messages", w.HandleDeviceMessage)
		r.Get("/kinds", w.HandleKinds)
		r.Post("/messages", w.HandleSendMessage)
		r.Get("/events", w.HandleEvents)
		r.Get("/events/stream", w.HandleEventStream)
		r.Get("/transports", w.HandleTransports)
		r.Get("/transports/{i}", w.HandleTransportDetail)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(wr, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
