package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"li-gateway/internal/brokers/rabbitmq"
	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
)

// ErrQueueNotInitialized is returned by Enqueue for a host whose queue was
// never declared.
var ErrQueueNotInitialized = fmt.Errorf("queue not initialized")

// Producer declares the per-host queues and publishes entries to them.
type Producer struct {
	pool       rabbitmq.ConnectionPoolInterface
	retryDelay time.Duration
	logger     logging.Logger

	// publishMu serializes use of client; a confirm-mode channel matches
	// confirmations to publishes in order.
	publishMu sync.Mutex
	client    rabbitmq.ClientInterface

	mu     sync.RWMutex
	queues map[string]hosts.Host
}

// NewProducer opens the publishing channel.
func NewProducer(pool rabbitmq.ConnectionPoolInterface, retryDelay time.Duration, logger logging.Logger) (*Producer, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client, err := pool.NewClient()
	if err != nil {
		return nil, errors.ConnectionError("failed to open publishing channel", err)
	}

	return &Producer{
		pool:       pool,
		retryDelay: retryDelay,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "queue_producer"}),
		client:     client,
		queues:     make(map[string]hosts.Host),
	}, nil
}

// InitializeQueue declares the host queue and its retry queue. Entries in
// the retry queue expire after the retry delay and dead-letter back into the
// host queue.
func (p *Producer) InitializeQueue(ctx context.Context, host hosts.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	if err := p.ensureClient(); err != nil {
		return errors.ConnectionError("failed to open publishing channel", err)
	}

	if _, err := p.client.QueueDeclare(host.Name, true, false, false, false, nil); err != nil {
		p.resetClient()
		return errors.ConnectionError(fmt.Sprintf("failed to declare queue %s", host.Name), err)
	}

	retryArgs := amqp.Table{
		"x-message-ttl":             int32(p.retryDelay / time.Millisecond),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": host.Name,
	}
	if _, err := p.client.QueueDeclare(RetryQueueName(host.Name), true, false, false, false, retryArgs); err != nil {
		p.resetClient()
		return errors.ConnectionError(fmt.Sprintf("failed to declare queue %s", RetryQueueName(host.Name)), err)
	}

	p.mu.Lock()
	p.queues[host.Name] = host
	p.mu.Unlock()

	logging.ForHost(p.logger, host.Name).Info("Queue initialized",
		logging.Field{Key: "retry_delay", Value: p.retryDelay.String()},
	)
	return nil
}

// IsInitialized reports whether InitializeQueue succeeded for host.
func (p *Producer) IsInitialized(hostName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.queues[hostName]
	return ok
}

// Enqueue publishes payload to the queue of hostName and waits for the
// broker to confirm it. It never declares queues.
func (p *Producer) Enqueue(ctx context.Context, hostName, messageID, messageType string, payload []byte) error {
	p.mu.RLock()
	host, ok := p.queues[hostName]
	p.mu.RUnlock()
	if !ok {
		return errors.EnqueueError(fmt.Sprintf("cannot enqueue message %s", messageID),
			fmt.Errorf("%w: %s", ErrQueueNotInitialized, hostName)).WithContext("host", hostName)
	}

	entry := Entry{
		MessageID:    messageID,
		MessageType:  messageType,
		DeliveryType: deliveryType(host),
		Payload:      payload,
		EnqueuedAt:   time.Now().UTC(),
	}
	if err := p.publish(ctx, hostName, entry); err != nil {
		return errors.EnqueueError(fmt.Sprintf("cannot enqueue message %s", messageID), err).
			WithContext("host", hostName)
	}

	logging.ForMessage(logging.ForHost(p.logger, hostName), messageID).Debug("Message enqueued",
		logging.Field{Key: "message_type", Value: messageType},
	)
	return nil
}

// Retry publishes entry to the retry queue of hostName with its attempt
// count incremented.
func (p *Producer) Retry(ctx context.Context, hostName string, entry Entry) error {
	entry.Attempts++
	return p.publish(ctx, RetryQueueName(hostName), entry)
}

func (p *Producer) publish(ctx context.Context, queue string, entry Entry) error {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	if err := p.ensureClient(); err != nil {
		return err
	}

	if err := p.client.PublishConfirmed(ctx, "", queue, entry.Publishing()); err != nil {
		p.resetClient()
		return err
	}
	return nil
}

// ensureClient opens a channel if the previous one was dropped. Callers
// hold publishMu.
func (p *Producer) ensureClient() error {
	if p.client != nil {
		return nil
	}
	client, err := p.pool.NewClient()
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

// resetClient drops a channel that failed; the next publish opens a new
// one. Callers hold publishMu.
func (p *Producer) resetClient() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

// Close releases the publishing channel.
func (p *Producer) Close() {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	p.resetClient()
}

func deliveryType(host hosts.Host) string {
	if host.IsPassthrough {
		return TypePassthrough
	}
	return TypeConnector
}
