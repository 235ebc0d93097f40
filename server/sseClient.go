package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mbocsi/iothub/proto"
)

// SSEClient streams events to an HTTP response as Server-Sent Events.
// Every write carries a deadline and nothing is written after Close.
type SSEClient struct {
	ctx     context.Context
	writer  http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController

	wmu    sync.Mutex
	closed bool
	ClientMetadata
}

// NewSSEClient wraps w. It fails when w cannot flush.
func NewSSEClient(ctx context.Context, w http.ResponseWriter) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	return &SSEClient{
		ctx:     ctx,
		writer:  w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		ClientMetadata: ClientMetadata{
			Id:   generateClientId("sse"),
			Name: "SSE Client",
			Subs: make(map[string]struct{}),
		},
	}, nil
}

// Send writes the event with its type as the SSE event name.
func (s *SSEClient) Send(event proto.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.write("event: %s\ndata: %s\n\n", event.Type, data)
}

// Comment writes an SSE comment line, used as a keepalive.
func (s *SSEClient) Comment(text string) error {
	return s.write(": %s\n\n", text)
}

func (s *SSEClient) write(format string, args ...any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return ErrClientClosed
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	if err := s.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, format, args...); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream finished. The handler must call it before it
// returns; a write in progress completes or times out first.
func (s *SSEClient) Close() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.rc.SetWriteDeadline(time.Time{})
}

func (s *SSEClient) Meta() *ClientMetadata {
	return &s.ClientMetadata
}
