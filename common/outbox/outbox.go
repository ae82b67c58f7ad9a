// Package outbox implements the transactional outbox pattern used by every
// participant: a state mutation and the event it publishes are committed in
// one local transaction, and a background worker drains pending rows onto
// the event bus. This gives the "commit precedes publish" ordering
// guarantee durably across process restarts, generalizing the original
// per-service OutboxRepository/OutboxWorker pair into one shared
// implementation every participant's cmd/main.go wires up the same way.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a row pending (or sent) on the outbox table.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Status        string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// NewEvent marshals payload and builds a pending outbox row ready for
// Insert/InsertTx. Every participant's service layer goes through this
// instead of hand-rolling json.Marshal at each call site.
func NewEvent(aggregateType, aggregateID string, eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	}, nil
}

// Repository is the outbox table access interface.
type Repository interface {
	Insert(ctx context.Context, event *Event) error
	InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error
	FindPending(ctx context.Context, limit int) ([]*Event, error)
	MarkSent(ctx context.Context, id int64) error
	MarkDeadLetter(ctx context.Context, id int64) error
}

type repository struct {
	db *sql.DB
}

// NewRepository constructs a Postgres-backed outbox repository. Every
// participant's database carries an `outbox_events` table with this shape:
//
//	id BIGSERIAL PRIMARY KEY,
//	aggregate_type TEXT NOT NULL,
//	aggregate_id TEXT NOT NULL,
//	event_type TEXT NOT NULL,
//	payload JSONB NOT NULL,
//	status TEXT NOT NULL DEFAULT 'PENDING', -- PENDING | SENT | DEAD_LETTER
//	created_at TIMESTAMPTZ NOT NULL,
//	sent_at TIMESTAMPTZ
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.Status, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *repository) InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query,
		event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.Status, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *repository) FindPending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *repository) MarkSent(ctx context.Context, id int64) error {
	query := `UPDATE outbox_events SET status = 'SENT', sent_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkDeadLetter moves an event to its terminal DEAD_LETTER status after
// the worker has exhausted retry.Do and republished it to its dlq topic.
// DEAD_LETTER rows fall outside FindPending's WHERE status = 'PENDING'
// filter, so they stop being resurfaced.
func (r *repository) MarkDeadLetter(ctx context.Context, id int64) error {
	query := `UPDATE outbox_events SET status = 'DEAD_LETTER' WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as dead-lettered: %w", err)
	}
	return nil
}
