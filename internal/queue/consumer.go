package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"li-gateway/internal/brokers/rabbitmq"
	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/journal"
)

// ErrHostNotAdmissible is returned when consumption is requested for a host
// that is abandoned.
var ErrHostNotAdmissible = fmt.Errorf("host is not admissible")

// Deliverer sends one entry to its destination host.
type Deliverer interface {
	Deliver(ctx context.Context, host hosts.Host, entry Entry) error
}

// Retrier schedules an entry for delayed redelivery.
type Retrier interface {
	Retry(ctx context.Context, hostName string, entry Entry) error
}

// HostLookup resolves configured hosts by name.
type HostLookup interface {
	Get(name string) (hosts.Host, bool)
}

// HostState is the part of the host state machine the consumer drives.
type HostState interface {
	IsAdmissible(name string) bool
	RecordDeliverySuccess(name string)
	RecordDeliveryFailure(name string)
	RecordUnrecoverableFailure(name string)
	Reset(name string)
	OnTransition(fn hosts.TransitionFunc)
}

// ConsumerConfig tunes the consumer.
type ConsumerConfig struct {
	// Prefetch bounds the unacknowledged entries per host.
	Prefetch int
	// RetryDelay is how long a host that failed a delivery is left alone
	// before consumption resumes.
	RetryDelay time.Duration
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout time.Duration
}

type subscription struct {
	host      hosts.Host
	client    rabbitmq.ClientInterface
	tag       string
	cancelled atomic.Bool
	once      sync.Once
	inflight  sync.WaitGroup
	done      chan struct{}
}

// Consumer pulls entries from the per-host queues and delivers them. Each
// host has its own subscription and goroutine.
type Consumer struct {
	pool      rabbitmq.ConnectionPoolInterface
	hosts     HostLookup
	state     HostState
	deliverer Deliverer
	retrier   Retrier
	journal   journal.Journal
	cfg       ConsumerConfig
	logger    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*subscription
	timers map[string]*time.Timer
	closed bool

	// started is set by the first StartConsuming call. Until then
	// ResumeHost only resets host state.
	started bool
}

// NewConsumer creates a consumer. It stops consuming a host as soon as the
// host becomes Abandoned.
func NewConsumer(
	pool rabbitmq.ConnectionPoolInterface,
	lookup HostLookup,
	state HostState,
	deliverer Deliverer,
	retrier Retrier,
	j journal.Journal,
	cfg ConsumerConfig,
	logger logging.Logger,
) *Consumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if j == nil {
		j = journal.Nop()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		pool:      pool,
		hosts:     lookup,
		state:     state,
		deliverer: deliverer,
		retrier:   retrier,
		journal:   j,
		cfg:       cfg,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "queue_consumer"}),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string]*subscription),
		timers:    make(map[string]*time.Timer),
	}

	state.OnTransition(func(host string, from, to hosts.State) {
		if to == hosts.Abandoned {
			c.StopConsuming(host)
		}
	})

	return c
}

// StartConsuming subscribes to the queue of hostName. Calling it for a host
// that is already consumed does nothing.
func (c *Consumer) StartConsuming(ctx context.Context, hostName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	host, ok := c.hosts.Get(hostName)
	if !ok {
		return errors.NotFoundError(fmt.Sprintf("host %s", hostName))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("consumer is closed")
	}
	c.started = true
	if _, exists := c.subs[hostName]; exists {
		return nil
	}
	if !c.state.IsAdmissible(hostName) {
		return fmt.Errorf("%w: %s", ErrHostNotAdmissible, hostName)
	}
	c.stopTimerLocked(hostName)

	client, err := c.pool.NewClient()
	if err != nil {
		return errors.ConnectionError(fmt.Sprintf("failed to open channel for %s", hostName), err)
	}
	if err := client.Qos(c.cfg.Prefetch); err != nil {
		client.Close()
		return errors.ConnectionError(fmt.Sprintf("failed to set prefetch for %s", hostName), err)
	}

	sub := &subscription{
		host:   host,
		client: client,
		tag:    "li-gateway-" + uuid.NewString(),
		done:   make(chan struct{}),
	}
	deliveries, err := client.Consume(hostName, sub.tag, false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.ConnectionError(fmt.Sprintf("failed to consume %s", hostName), err)
	}

	c.subs[hostName] = sub
	go c.consume(sub, deliveries)

	logging.ForHost(c.logger, hostName).Info("Consuming started",
		logging.Field{Key: "consumer_tag", Value: sub.tag},
		logging.Field{Key: "prefetch", Value: c.cfg.Prefetch},
	)
	return nil
}

// StopConsuming cancels the subscription of hostName and any pending
// resubscribe. In-flight deliveries still complete.
func (c *Consumer) StopConsuming(hostName string) {
	c.mu.Lock()
	c.stopTimerLocked(hostName)
	sub := c.subs[hostName]
	c.mu.Unlock()

	if sub != nil {
		c.cancelSubscription(sub)
	}
}

// IsConsuming reports whether hostName has an active subscription.
func (c *Consumer) IsConsuming(hostName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[hostName]
	return ok
}

// ResumeHost returns hostName to Active and starts consuming it again. A
// consumer that was never started only resets the state.
func (c *Consumer) ResumeHost(ctx context.Context, hostName string) error {
	if _, ok := c.hosts.Get(hostName); !ok {
		return errors.NotFoundError(fmt.Sprintf("host %s", hostName))
	}
	c.state.Reset(hostName)

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		logging.ForHost(c.logger, hostName).Debug("Consumers not started, host reset only")
		return nil
	}
	return c.StartConsuming(ctx, hostName)
}

// Close cancels every subscription and waits for in-flight deliveries.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for name := range c.timers {
		c.stopTimerLocked(name)
	}
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		c.cancelSubscription(sub)
	}
	for _, sub := range subs {
		<-sub.done
	}
	c.cancel()

	c.logger.Info("Consumer closed")
}

func (c *Consumer) consume(sub *subscription, deliveries <-chan amqp.Delivery) {
	logger := logging.ForHost(c.logger, sub.host.Name)
	sem := make(chan struct{}, c.cfg.Prefetch)

	for d := range deliveries {
		sem <- struct{}{}
		sub.inflight.Add(1)
		go func(d amqp.Delivery) {
			defer func() {
				<-sem
				sub.inflight.Done()
			}()
			c.handle(sub, d)
		}(d)
	}

	// Acks go through the channel, so it stays open until in-flight
	// deliveries are settled.
	sub.inflight.Wait()
	sub.client.Close()

	c.mu.Lock()
	if c.subs[sub.host.Name] == sub {
		delete(c.subs, sub.host.Name)
	}
	closed := c.closed
	c.mu.Unlock()
	close(sub.done)

	if !sub.cancelled.Load() && !closed {
		logger.Warn("Delivery channel closed unexpectedly")
		c.scheduleResume(sub.host.Name)
		return
	}
	logger.Info("Consuming stopped")
}

func (c *Consumer) handle(sub *subscription, d amqp.Delivery) {
	host := sub.host
	entry := EntryFromDelivery(d)
	logger := logging.ForMessage(logging.ForHost(c.logger, host.Name), entry.MessageID)

	if sub.cancelled.Load() || !c.state.IsAdmissible(host.Name) {
		if err := d.Nack(false, true); err != nil {
			logger.Error("Failed to requeue entry", err)
		}
		c.cancelSubscription(sub)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DeliveryTimeout)
	err := c.deliverer.Deliver(ctx, host, entry)
	cancel()

	switch {
	case err == nil:
		c.settle(logger, d.Ack(false))
		c.state.RecordDeliverySuccess(host.Name)
		c.record(entry, host.Name, journal.EventDelivered, "")
		logger.Debug("Entry delivered", logging.Field{Key: "attempts", Value: entry.Attempts})

	case errors.IsType(err, errors.ErrTypeRequestCreation):
		c.settle(logger, d.Reject(false))
		c.record(entry, host.Name, journal.EventDeliveryFailed, err.Error())
		logger.Error("Entry discarded, request could not be built", err)

	case errors.IsType(err, errors.ErrTypeHostUnreachable):
		if errors.IsUnrecoverable(err) {
			c.state.RecordUnrecoverableFailure(host.Name)
		} else {
			c.state.RecordDeliveryFailure(host.Name)
		}
		c.record(entry, host.Name, journal.EventDeliveryFailed, err.Error())
		logger.Warn("Host unreachable, entry scheduled for redelivery",
			logging.Err(err),
			logging.Field{Key: "attempts", Value: entry.Attempts},
		)

		c.retry(logger, host.Name, entry, d)
		c.cancelSubscription(sub)
		c.scheduleResume(host.Name)

	default:
		// MessageRejected and ResponseProcessing: the host answered, the
		// entry is consumed.
		c.settle(logger, d.Ack(false))
		c.record(entry, host.Name, journal.EventDeliveryFailed, err.Error())
		logger.Warn("Entry not accepted by host", logging.Err(err),
			logging.Field{Key: "error_type", Value: string(errors.GetType(err))},
		)
	}
}

// retry moves the entry to the retry queue. The original is requeued when
// the move fails so the entry is never lost.
func (c *Consumer) retry(logger logging.Logger, hostName string, entry Entry, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DeliveryTimeout)
	defer cancel()

	if err := c.retrier.Retry(ctx, hostName, entry); err != nil {
		logger.Error("Failed to schedule redelivery, requeueing", err)
		c.settle(logger, d.Nack(false, true))
		return
	}
	c.settle(logger, d.Nack(false, false))
}

func (c *Consumer) cancelSubscription(sub *subscription) {
	sub.once.Do(func() {
		sub.cancelled.Store(true)

		c.mu.Lock()
		if c.subs[sub.host.Name] == sub {
			delete(c.subs, sub.host.Name)
		}
		c.mu.Unlock()

		if err := sub.client.Cancel(sub.tag); err != nil {
			logging.ForHost(c.logger, sub.host.Name).Warn("Failed to cancel consumer, closing channel",
				logging.Err(err),
			)
			sub.client.Close()
		}
	})
}

// scheduleResume restarts consumption of hostName after the retry delay if
// the host is still admissible by then.
func (c *Consumer) scheduleResume(hostName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.IsAdmissible(hostName) {
		return
	}
	c.stopTimerLocked(hostName)
	c.timers[hostName] = time.AfterFunc(c.cfg.RetryDelay, func() {
		c.mu.Lock()
		delete(c.timers, hostName)
		c.mu.Unlock()

		if !c.state.IsAdmissible(hostName) {
			return
		}
		if err := c.StartConsuming(c.ctx, hostName); err != nil {
			logging.ForHost(c.logger, hostName).Error("Failed to resume consuming", err)
		}
	})
}

func (c *Consumer) stopTimerLocked(hostName string) {
	if t, ok := c.timers[hostName]; ok {
		t.Stop()
		delete(c.timers, hostName)
	}
}

func (c *Consumer) settle(logger logging.Logger, err error) {
	if err != nil {
		logger.Error("Failed to settle delivery", err)
	}
}

func (c *Consumer) record(entry Entry, host string, event journal.EventType, detail string) {
	err := c.journal.Record(c.ctx, journal.Event{
		MessageID: entry.MessageID,
		Host:      host,
		Type:      event,
		Detail:    detail,
	})
	if err != nil {
		c.logger.Warn("Failed to journal event", logging.Err(err))
	}
}
