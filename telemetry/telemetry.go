// Package telemetry writes device operation timings to InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mbocsi/iothub/proto"
)

const (
	// Measurement is the InfluxDB measurement every point is written to.
	Measurement = "device_operation"

	connectTimeout = 10 * time.Second
)

// pointWriter is the part of api.WriteAPI the writer needs.
type pointWriter interface {
	WritePoint(point *write.Point)
}

// Writer converts hub events into InfluxDB points.
type Writer struct {
	points pointWriter
}

// NewWriter wraps a write API.
func NewWriter(points pointWriter) *Writer {
	return &Writer{points: points}
}

// Point builds the point for an event. Tags carry the device and outcome;
// fields carry the duration and success flag.
func Point(event *proto.Event) *write.Point {
	outcome := "ok"
	if event.Error != "" || event.Type == proto.EventMessageFailed {
		outcome = "error"
	}

	tags := map[string]string{
		"device_id": strconv.FormatUint(uint64(event.DeviceID), 10),
		"event":     string(event.Type),
		"outcome":   outcome,
	}
	if event.Kind != "" {
		tags["kind"] = event.Kind
	}
	if event.Message != nil {
		tags["message_type"] = string(event.Message.Type)
	}

	return write.NewPoint(Measurement, tags, map[string]interface{}{
		"duration_ms": event.DurationMs,
		"success":     outcome == "ok",
	}, event.Time())
}

// PublishEvent queues a point for the event. Writes are batched by the
// client and never block.
func (w *Writer) PublishEvent(_ context.Context, event *proto.Event) error {
	w.points.WritePoint(Point(event))
	return nil
}

// Client owns the InfluxDB connection and its non-blocking write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	*Writer
}

// Connect pings the server and returns a client writing to org/bucket.
// Asynchronous write errors are passed to onError when it is non-nil.
func Connect(url, token, org, bucket string, onError func(error)) (*Client, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: ping %s: %w", url, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("telemetry: %s is not healthy", url)
	}

	writeAPI := client.WriteAPI(org, bucket)
	go func() {
		for err := range writeAPI.Errors() {
			if onError != nil {
				onError(err)
			}
		}
	}()

	return &Client{client: client, writeAPI: writeAPI, Writer: NewWriter(writeAPI)}, nil
}

// Close flushes pending points and closes the connection.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
