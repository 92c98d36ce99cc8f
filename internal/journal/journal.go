// Package journal records the protocol events of each message so operators
// can trace it from receipt to delivery.
package journal

import (
	"context"
	"time"
)

// EventType is a step in the life of a message.
type EventType string

const (
	EventReceived       EventType = "received"
	EventRejected       EventType = "rejected"
	EventEnqueued       EventType = "enqueued"
	EventAcked          EventType = "acked"
	EventDelivered      EventType = "delivered"
	EventDeliveryFailed EventType = "delivery_failed"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"message_id"`
	Host      string    `json:"host,omitempty"`
	Type      EventType `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal stores message events.
type Journal interface {
	Record(ctx context.Context, event Event) error
	Events(ctx context.Context, messageID string) ([]Event, error)
	Health() error
	Close() error
}

type nopJournal struct{}

// Nop returns a Journal that discards every event.
func Nop() Journal {
	return nopJournal{}
}

func (nopJournal) Record(context.Context, Event) error { return nil }

func (nopJournal) Events(context.Context, string) ([]Event, error) { return nil, nil }

func (nopJournal) Health() error { return nil }

func (nopJournal) Close() error { return nil }
