package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"li-gateway/internal/brokers/rabbitmq"
)

// PublishedMessage is a message captured by MockClient
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Publishing amqp.Publishing
	Confirmed  bool
}

// DeclaredQueue is a queue declaration captured by MockClient
type DeclaredQueue struct {
	Name    string
	Durable bool
	Args    amqp.Table
}

type mockConsumer struct {
	queue      string
	deliveries chan amqp.Delivery
}

// MockClient implements rabbitmq.ClientInterface in memory
type MockClient struct {
	mu        sync.Mutex
	closed    bool
	published []PublishedMessage
	declared  []DeclaredQueue
	prefetch  int
	consumers map[string]*mockConsumer
	cancelled []string

	// Error injection
	PublishErr func(routingKey string) error
	DeclareErr error
	ConsumeErr error
}

func NewMockClient() *MockClient {
	return &MockClient{consumers: make(map[string]*mockConsumer)}
}

func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockClient) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.publish(exchange, routingKey, msg, false)
}

func (m *MockClient) PublishConfirmed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.publish(exchange, routingKey, msg, true)
}

func (m *MockClient) publish(exchange, routingKey string, msg amqp.Publishing, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("channel is closed")
	}
	if m.PublishErr != nil {
		if err := m.PublishErr(routingKey); err != nil {
			return err
		}
	}
	m.published = append(m.published, PublishedMessage{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Publishing: msg,
		Confirmed:  confirmed,
	})
	return nil
}

func (m *MockClient) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeclareErr != nil {
		return amqp.Queue{}, m.DeclareErr
	}
	m.declared = append(m.declared, DeclaredQueue{Name: name, Durable: durable, Args: args})
	return amqp.Queue{Name: name}, nil
}

func (m *MockClient) Qos(prefetchCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetch = prefetchCount
	return nil
}

func (m *MockClient) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	c := &mockConsumer{queue: queue, deliveries: make(chan amqp.Delivery, 16)}
	m.consumers[consumer] = c
	return c.deliveries, nil
}

func (m *MockClient) Cancel(consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consumers[consumer]
	if !ok {
		return fmt.Errorf("unknown consumer %s", consumer)
	}
	delete(m.consumers, consumer)
	close(c.deliveries)
	m.cancelled = append(m.cancelled, consumer)
	return nil
}

// Deliver hands d to the active consumer of queue. It reports false when
// nothing consumes the queue.
func (m *MockClient) Deliver(queue string, d amqp.Delivery) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.consumers {
		if c.queue == queue {
			c.deliveries <- d
			return true
		}
	}
	return false
}

func (m *MockClient) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.published...)
}

func (m *MockClient) Declared() []DeclaredQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeclaredQueue(nil), m.declared...)
}

func (m *MockClient) Prefetch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefetch
}

func (m *MockClient) ActiveConsumers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.consumers)
}

func (m *MockClient) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// MockConnectionPool implements rabbitmq.ConnectionPoolInterface and keeps
// every client it created for inspection.
type MockConnectionPool struct {
	mu        sync.Mutex
	clients   []*MockClient
	closed    bool
	newClient func() (*MockClient, error)

	NewClientErr error
}

func NewMockConnectionPool() *MockConnectionPool {
	return &MockConnectionPool{}
}

// SetClientFactory replaces the default client constructor.
func (p *MockConnectionPool) SetClientFactory(fn func() (*MockClient, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newClient = fn
}

func (p *MockConnectionPool) NewClient() (rabbitmq.ClientInterface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	if p.NewClientErr != nil {
		return nil, p.NewClientErr
	}

	client := NewMockClient()
	if p.newClient != nil {
		var err error
		if client, err = p.newClient(); err != nil {
			return nil, err
		}
	}
	p.clients = append(p.clients, client)
	return client, nil
}

func (p *MockConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *MockConnectionPool) Clients() []*MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockClient(nil), p.clients...)
}

// Published collects the messages published through every client.
func (p *MockConnectionPool) Published() []PublishedMessage {
	var out []PublishedMessage
	for _, c := range p.Clients() {
		out = append(out, c.Published()...)
	}
	return out
}

// PublishedTo returns the messages published with the given routing key.
func (p *MockConnectionPool) PublishedTo(routingKey string) []PublishedMessage {
	var out []PublishedMessage
	for _, msg := range p.Published() {
		if msg.RoutingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}

// Deliver hands d to whichever client consumes queue.
func (p *MockConnectionPool) Deliver(queue string, d amqp.Delivery) bool {
	for _, c := range p.Clients() {
		if c.Deliver(queue, d) {
			return true
		}
	}
	return false
}

// ActiveConsumers counts consumers across all clients.
func (p *MockConnectionPool) ActiveConsumers() int {
	n := 0
	for _, c := range p.Clients() {
		n += c.ActiveConsumers()
	}
	return n
}

// Outcome is how a delivery was settled.
type Outcome string

const (
	Acked      Outcome = "ack"
	Nacked     Outcome = "nack"
	Requeued   Outcome = "requeue"
	Rejected   Outcome = "reject"
	NotSettled Outcome = ""
)

// MockAcknowledger implements amqp.Acknowledger and records the outcome of
// each delivery tag.
type MockAcknowledger struct {
	mu       sync.Mutex
	outcomes map[uint64]Outcome
	settled  chan uint64
}

func NewMockAcknowledger() *MockAcknowledger {
	return &MockAcknowledger{
		outcomes: make(map[uint64]Outcome),
		settled:  make(chan uint64, 64),
	}
}

func (a *MockAcknowledger) record(tag uint64, o Outcome) error {
	a.mu.Lock()
	a.outcomes[tag] = o
	a.mu.Unlock()
	a.settled <- tag
	return nil
}

func (a *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	return a.record(tag, Acked)
}

func (a *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		return a.record(tag, Requeued)
	}
	return a.record(tag, Nacked)
}

func (a *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	if requeue {
		return a.record(tag, Requeued)
	}
	return a.record(tag, Rejected)
}

// Outcome returns how tag was settled.
func (a *MockAcknowledger) Outcome(tag uint64) Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcomes[tag]
}

// Settled yields each delivery tag as it is settled.
func (a *MockAcknowledger) Settled() <-chan uint64 {
	return a.settled
}

// NewDelivery builds a delivery settled through ack.
func NewDelivery(ack amqp.Acknowledger, tag uint64, body string, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		ContentType:  "application/xml",
		Body:         []byte(body),
		Headers:      headers,
	}
}
