// Package queue relays validated messages to destination hosts through
// durable per-host RabbitMQ queues.
package queue

import (
	"time"

	"github.com/streadway/amqp"
)

// Delivery type tags carried in the AMQP Type property.
const (
	TypePassthrough = "passthrough"
	TypeConnector   = "connector"
)

const (
	HeaderMessageType = "x-message-type"
	HeaderAttempts    = "x-delivery-attempts"

	retrySuffix = ".retry"
)

// Entry is one queued message.
type Entry struct {
	MessageID    string
	MessageType  string
	DeliveryType string
	Payload      []byte
	EnqueuedAt   time.Time
	Attempts     int
}

// RetryQueueName is the queue that holds entries of host until their
// redelivery delay expires.
func RetryQueueName(host string) string {
	return host + retrySuffix
}

// Publishing encodes the entry as a persistent AMQP message.
func (e Entry) Publishing() amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/xml",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.MessageID,
		Type:         e.DeliveryType,
		Timestamp:    e.EnqueuedAt,
		Body:         e.Payload,
		Headers: amqp.Table{
			HeaderMessageType: e.MessageType,
			HeaderAttempts:    int32(e.Attempts),
		},
	}
}

// EntryFromDelivery decodes an entry received from the broker.
func EntryFromDelivery(d amqp.Delivery) Entry {
	e := Entry{
		MessageID:    d.MessageId,
		DeliveryType: d.Type,
		Payload:      d.Body,
		EnqueuedAt:   d.Timestamp,
	}
	if v, ok := d.Headers[HeaderMessageType].(string); ok {
		e.MessageType = v
	}
	switch v := d.Headers[HeaderAttempts].(type) {
	case int32:
		e.Attempts = int(v)
	case int64:
		e.Attempts = int(v)
	case int:
		e.Attempts = v
	}
	return e
}
