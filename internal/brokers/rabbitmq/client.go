package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/common/utils"
)

// ErrPublishNacked is returned when the broker refuses a confirmed publish.
var ErrPublishNacked = fmt.Errorf("publish was not confirmed by the broker")

type ConnectionPool struct {
	url         string
	maxSize     int
	connections chan *amqp.Connection
	mu          sync.RWMutex
	closed      bool
	logger      logging.Logger
}

// Client owns one AMQP channel on a pooled connection. A Client must not be
// shared between goroutines that publish with confirmation.
type Client struct {
	pool *ConnectionPool
	conn *amqp.Connection
	ch   *amqp.Channel

	confirmMu sync.Mutex
	confirms  chan amqp.Confirmation
}

func NewConnectionPool(cfg *Config) (*ConnectionPool, error) {
	logger := logging.GetGlobalLogger().WithFields(
		logging.Field{Key: "component", Value: "rabbitmq_pool"},
		logging.Field{Key: "url", Value: cfg.GetConnectionString()},
	)

	pool := &ConnectionPool{
		url:         cfg.URL,
		maxSize:     cfg.PoolSize,
		connections: make(chan *amqp.Connection, cfg.PoolSize),
		logger:      logger,
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.DialAttempts
	retry.OnRetry = func(attempt int, err error) {
		logger.Warn("RabbitMQ dial failed, retrying", logging.Err(err), logging.Field{Key: "attempt", Value: attempt})
	}

	for i := 0; i < cfg.PoolSize; i++ {
		var conn *amqp.Connection
		err := utils.RetryWithBackoff(context.Background(), retry, func() error {
			var dialErr error
			conn, dialErr = amqp.Dial(cfg.URL)
			return dialErr
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create initial RabbitMQ connection: %w", err)
		}
		pool.connections <- conn
	}

	logger.Info("RabbitMQ connection pool ready", logging.Field{Key: "size", Value: cfg.PoolSize})
	return pool, nil
}

func (p *ConnectionPool) GetConnection() (*amqp.Connection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("connection pool is closed")
	}
	p.mu.RUnlock()

	select {
	case conn, ok := <-p.connections:
		if !ok {
			return nil, fmt.Errorf("connection pool is closed")
		}
		if conn.IsClosed() {
			p.logger.Warn("Replacing closed RabbitMQ connection")
			newConn, err := amqp.Dial(p.url)
			if err != nil {
				return nil, fmt.Errorf("failed to create new RabbitMQ connection: %w", err)
			}
			return newConn, nil
		}
		return conn, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timeout waiting for connection from pool")
	}
}

// ReturnConnection puts conn back into the pool. Connections are shared by
// several channels, so a connection may be returned while still in use.
func (p *ConnectionPool) ReturnConnection(conn *amqp.Connection) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		conn.Close()
		return
	}

	if !conn.IsClosed() {
		select {
		case p.connections <- conn:
		default:
			conn.Close()
		}
	}
}

// Health borrows a connection and reports whether it is usable.
func (p *ConnectionPool) Health() error {
	conn, err := p.GetConnection()
	if err != nil {
		return err
	}
	defer p.ReturnConnection(conn)

	if conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	return nil
}

func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	close(p.connections)
	for conn := range p.connections {
		conn.Close()
	}
}

// NewClient opens a channel on a pooled connection. The connection goes back
// to the pool right away so that many channels can share it.
func (p *ConnectionPool) NewClient() (ClientInterface, error) {
	conn, err := p.GetConnection()
	if err != nil {
		return nil, err
	}
	defer p.ReturnConnection(conn)

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Client{
		pool: p,
		conn: conn,
		ch:   ch,
	}, nil
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
}

func (c *Client) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.ch.Publish(exchange, routingKey, mandatory, immediate, msg)
}

// PublishConfirmed publishes msg and waits for the broker to confirm it.
// The channel is put into confirm mode on first use.
func (c *Client) PublishConfirmed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()

	if c.confirms == nil {
		if err := c.ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		c.confirms = c.ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	if err := c.ch.Publish(exchange, routingKey, false, false, msg); err != nil {
		return err
	}

	select {
	case confirm, ok := <-c.confirms:
		if !ok {
			return fmt.Errorf("channel closed before publish was confirmed")
		}
		if !confirm.Ack {
			return ErrPublishNacked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (c *Client) Qos(prefetchCount int) error {
	return c.ch.Qos(prefetchCount, 0, false)
}

// Consume starts consuming messages from a queue
func (c *Client) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

// Cancel stops the deliveries of consumer. The delivery channel returned by
// Consume is closed once the broker acknowledges the cancel.
func (c *Client) Cancel(consumer string) error {
	return c.ch.Cancel(consumer, false)
}
