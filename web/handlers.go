package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/iothub/proto"
	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
)

const maxBodyBytes = 1 << 20

func (w *WebClient) HandleHealth(wr http.ResponseWriter, r *http.Request) {
	devices, _ := w.services.Device.ListDevices()
	writeJSON(wr, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(devices),
		"journal": w.services.Event.Enabled(),
	})
}

func (w *WebClient) HandleDevices(wr http.ResponseWriter, r *http.Request) {
	devices, err := w.services.Device.ListDevices()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, devices)
}

func (w *WebClient) HandleDeviceDetail(wr http.ResponseWriter, r *http.Request) {
	id, err := services.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	device, err := w.services.Device.GetDevice(id)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, device)
}

func (w *WebClient) HandleRegisterDevice(wr http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		w.handleError(wr, err)
		return
	}
	device, err := w.services.Device.RegisterDevice(r.Context(), req)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	wr.Header().Set("Location", "/api/devices/"+device.ID.String())
	writeJSON(wr, http.StatusCreated, device)
}

func (w *WebClient) HandleUnregisterDevice(wr http.ResponseWriter, r *http.Request) {
	id, err := services.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	if err := w.services.Device.UnregisterDevice(r.Context(), id); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *WebClient) HandleKinds(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, map[string][]string{
		"kinds":         w.services.Device.ListKinds(),
		"message_types": w.services.Messaging.MessageTypes(),
	})
}

// HandleDeviceMessage sends {type,data} to the device in the path
func (w *WebClient) HandleDeviceMessage(wr http.ResponseWriter, r *http.Request) {
	id, err := services.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	var req services.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		w.handleError(wr, err)
		return
	}
	req.Target = id
	w.sendMessage(wr, r, req)
}

// HandleSendMessage sends {target,type,data}
func (w *WebClient) HandleSendMessage(wr http.ResponseWriter, r *http.Request) {
	var req services.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		w.handleError(wr, err)
		return
	}
	w.sendMessage(wr, r, req)
}

func (w *WebClient) sendMessage(wr http.ResponseWriter, r *http.Request, req services.MessageRequest) {
	if err := w.services.Messaging.SendMessage(r.Context(), req); err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusAccepted, proto.Ack{Type: "ack", Target: req.Target, OK: true})
}

func (w *WebClient) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := services.EventQuery{Type: q.Get("type")}

	if device := q.Get("device"); device != "" {
		id, err := services.ParseDeviceID(device)
		if err != nil {
			w.handleError(wr, err)
			return
		}
		query.DeviceID = id
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid limit: " + limit})
			return
		}
		query.Limit = n
	}

	events, err := w.services.Event.RecentEvents(r.Context(), query)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, events)
}

// HandleEventStream streams broker events as Server-Sent Events until the
// client goes away. ?topics=a,b narrows the stream (default all).
func (w *WebClient) HandleEventStream(wr http.ResponseWriter, r *http.Request) {
	client, err := server.NewSSEClient(r.Context(), wr)
	if err != nil {
		slog.Error("Streaming unsupported", "error", err)
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.WriteHeader(http.StatusOK)
	client.Comment("connected")

	events := server.NewQueuedClient(client, server.DefaultClientQueue)
	w.streams.AddClient(client)
	for _, topic := range parseTopics(r.URL.Query().Get("topics")) {
		w.broker.Subscribe(topic, events)
	}
	// No write may reach wr once the handler has returned.
	defer func() {
		w.broker.UnsubscribeAll(events)
		w.streams.RemoveClient(client)
		client.Close()
		events.Close()
	}()

	ticker := time.NewTicker(w.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-w.closed:
			return
		case <-ticker.C:
			if err := client.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}

func (w *WebClient) HandleTransports(wr http.ResponseWriter, r *http.Request) {
	transports, err := w.services.Transport.ListTransports()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	stats, _ := w.services.Transport.GetTransportStats()
	writeJSON(wr, http.StatusOK, map[string]any{
		"transports": transports,
		"stats":      stats,
	})
}

func (w *WebClient) HandleTransportDetail(wr http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "i"))
	if err != nil {
		w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid transport index"})
		return
	}
	transport, err := w.services.Transport.GetTransport(index)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transport)
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleError handles service errors with proper HTTP status codes
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = services.ErrCodeInternal
	body.Error.Message = "Internal server error"

	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		body.Error.Code = serviceErr.Code
		body.Error.Message = serviceErr.Error()
	}

	status := statusForCode(body.Error.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("Service error", "error", err)
	} else {
		slog.Debug("Request rejected", "code", body.Error.Code, "error", err)
	}
	writeJSON(wr, status, body)
}

func statusForCode(code string) int {
	switch code {
	case services.ErrCodeNotFound:
		return http.StatusNotFound
	case services.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case services.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case services.ErrCodeDevice:
		return http.StatusBadGateway
	case services.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid request body", Cause: err}
	}
	return nil
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{proto.AllEvents}
	}
	return topics
}
