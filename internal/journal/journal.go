package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Bridge event kinds.
const (
	EventStarted = "started" // bridge created and subscribed
	EventFaulted = "faulted" // bridge created but its subscription failed
	EventFailed  = "failed"  // descriptor rejected, no bridge created
	EventStopped = "stopped" // bridge closed on shutdown
)

// Page size limits for the Recent* queries.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// BridgeEvent is one row of bridge_events.
type BridgeEvent struct {
	ID          int64     `json:"id"`
	Index       int       `json:"index"`
	Factory     string    `json:"factory"`
	MsgType     string    `json:"msg_type"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Event       string    `json:"event"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ConnectionEvent is one row of connection_events.
type ConnectionEvent struct {
	ID         int64     `json:"id"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository is the journal as seen by the engine and the status API.
type Repository interface {
	RecordBridge(ctx context.Context, ev *BridgeEvent) error
	RecordConnection(ctx context.Context, ev *ConnectionEvent) error
	RecentBridgeEvents(ctx context.Context, limit int) ([]BridgeEvent, error)
	RecentConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a journal over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordBridge inserts ev. OccurredAt defaults to now and ID is filled in.
func (r *SQLiteRepository) RecordBridge(ctx context.Context, ev *BridgeEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO bridge_events (occurred_at, bridge_index, factory, msg_type, source, destination, event, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(ev.OccurredAt), ev.Index, ev.Factory, ev.MsgType,
		ev.Source, ev.Destination, ev.Event, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting bridge event: %w", err)
	}
	ev.ID, _ = res.LastInsertId() //nolint:errcheck // sqlite3 always supports it
	return nil
}

// RecordConnection inserts ev. OccurredAt defaults to now and ID is filled in.
func (r *SQLiteRepository) RecordConnection(ctx context.Context, ev *ConnectionEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (occurred_at, state, detail) VALUES (?, ?, ?)`,
		formatTime(ev.OccurredAt), ev.State, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	ev.ID, _ = res.LastInsertId() //nolint:errcheck // sqlite3 always supports it
	return nil
}

// RecentBridgeEvents returns up to limit bridge events, newest first.
func (r *SQLiteRepository) RecentBridgeEvents(ctx context.Context, limit int) ([]BridgeEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, occurred_at, bridge_index, factory, msg_type, source, destination, event, detail
		 FROM bridge_events ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying bridge events: %w", err)
	}
	defer rows.Close()

	events := []BridgeEvent{}
	for rows.Next() {
		var ev BridgeEvent
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.Index, &ev.Factory, &ev.MsgType,
			&ev.Source, &ev.Destination, &ev.Event, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scanning bridge event: %w", err)
		}
		if ev.OccurredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bridge events: %w", err)
	}
	return events, nil
}

// RecentConnectionEvents returns up to limit connection events, newest first.
func (r *SQLiteRepository) RecentConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, occurred_at, state, detail FROM connection_events ORDER BY id DESC LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := []ConnectionEvent{}
	for rows.Next() {
		var ev ConnectionEvent
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.State, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		if ev.OccurredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
