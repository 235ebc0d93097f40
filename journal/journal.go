// Package journal persists hub events in SQLite so recent activity can be
// queried after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mbocsi/iothub/proto"
)

const (
	dirPermissions    = 0o750
	busyTimeoutMs     = 5000
	connectionTimeout = 5 * time.Second

	// DefaultLimit and MaxLimit bound List results.
	DefaultLimit = 50
	MaxLimit     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT    NOT NULL UNIQUE,
	type         TEXT    NOT NULL,
	device_id    INTEGER NOT NULL,
	name         TEXT,
	kind         TEXT,
	message_type TEXT,
	message_data TEXT,
	error        TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	timestamp    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_device ON events(device_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DeviceID proto.DeviceID
	Type     proto.EventType
	Limit    int
}

// Journal is an append-only event store.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// Path returns the database location.
func (j *Journal) Path() string {
	return j.path
}

// Record appends an event. Recording the same event ID twice is a no-op.
func (j *Journal) Record(ctx context.Context, event proto.Event) error {
	var msgType, msgData any
	if event.Message != nil {
		msgType = string(event.Message.Type)
		msgData = nullableString(event.Message.Data)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events
		 (id, type, device_id, name, kind, message_type, message_data, error, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), uint64(event.DeviceID),
		nullableString(event.Name), nullableString(event.Kind),
		msgType, msgData, nullableString(event.Error),
		event.DurationMs, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// PublishEvent records the event so the journal can sit behind a forwarder.
func (j *Journal) PublishEvent(ctx context.Context, event *proto.Event) error {
	return j.Record(ctx, *event)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, most recent first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]proto.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}

	var conditions []string
	var args []any
	if filter.DeviceID != 0 {
		conditions = append(conditions, "device_id = ?")
		args = append(args, uint64(filter.DeviceID))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT id, type, device_id, name, kind, message_type, message_data, error, duration_ms, timestamp
		 FROM events %s ORDER BY seq DESC LIMIT ?`, where)
	args = append(args, filter.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []proto.Event{}
	for rows.Next() {
		var (
			e                            proto.Event
			eventType                    string
			deviceID                     int64
			name, kind, msgType, msgData sql.NullString
			errText                      sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &deviceID, &name, &kind,
			&msgType, &msgData, &errText, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = proto.EventType(eventType)
		e.DeviceID = proto.DeviceID(deviceID)
		e.Name = name.String
		e.Kind = kind.String
		e.Error = errText.String
		if msgType.Valid {
			e.Message = &proto.Message{
				Target: e.DeviceID,
				Type:   proto.MessageType(msgType.String),
				Data:   msgData.String,
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
