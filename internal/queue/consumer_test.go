package queue_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/journal"
	"li-gateway/internal/queue"
	"li-gateway/internal/testutil"
)

const settleTimeout = 2 * time.Second

type mockDeliverer struct {
	DeliverFunc func(ctx context.Context, host hosts.Host, entry queue.Entry) error

	mu    sync.Mutex
	calls []queue.Entry
}

func (m *mockDeliverer) Deliver(ctx context.Context, host hosts.Host, entry queue.Entry) error {
	m.mu.Lock()
	m.calls = append(m.calls, entry)
	m.mu.Unlock()
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, host, entry)
	}
	return nil
}

func (m *mockDeliverer) Calls() []queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Entry(nil), m.calls...)
}

// switchableState lets a test make a host inadmissible without a state
// transition.
type switchableState struct {
	*hosts.StateMachine
	blocked atomic.Bool
}

func (s *switchableState) IsAdmissible(name string) bool {
	return !s.blocked.Load() && s.StateMachine.IsAdmissible(name)
}

type recordingJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (r *recordingJournal) Record(_ context.Context, e journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingJournal) Events(context.Context, string) ([]journal.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]journal.Event(nil), r.events...), nil
}

func (r *recordingJournal) Health() error { return nil }

func (r *recordingJournal) Close() error { return nil }

type consumerFixture struct {
	pool      *testutil.MockConnectionPool
	state     *switchableState
	producer  *queue.Producer
	consumer  *queue.Consumer
	deliverer *mockDeliverer
	journal   *recordingJournal
	ack       *testutil.MockAcknowledger
}

type fixtureOptions struct {
	threshold  int
	retryDelay time.Duration
	deliver    func(ctx context.Context, host hosts.Host, entry queue.Entry) error
}

func newConsumerFixture(t *testing.T, opts fixtureOptions) *consumerFixture {
	t.Helper()
	if opts.threshold == 0 {
		opts.threshold = 3
	}
	if opts.retryDelay == 0 {
		opts.retryDelay = time.Hour
	}

	logger := logging.NewNopLogger()
	pool := testutil.NewMockConnectionPool()

	registry, err := hosts.NewRegistry([]hosts.Host{passthroughHost})
	require.NoError(t, err)

	state := &switchableState{StateMachine: hosts.NewStateMachine(opts.threshold, logger)}
	state.Initialize(passthroughHost)

	producer, err := queue.NewProducer(pool, opts.retryDelay, logger)
	require.NoError(t, err)
	require.NoError(t, producer.InitializeQueue(context.Background(), passthroughHost))

	f := &consumerFixture{
		pool:      pool,
		state:     state,
		producer:  producer,
		deliverer: &mockDeliverer{DeliverFunc: opts.deliver},
		journal:   &recordingJournal{},
		ack:       testutil.NewMockAcknowledger(),
	}
	f.consumer = queue.NewConsumer(pool, registry, state, f.deliverer, producer, f.journal, queue.ConsumerConfig{
		Prefetch:        2,
		RetryDelay:      opts.retryDelay,
		DeliveryTimeout: time.Second,
	}, logger)

	t.Cleanup(func() {
		f.consumer.Close()
		producer.Close()
	})
	return f
}

func (f *consumerFixture) deliver(t *testing.T, tag uint64, messageID string) {
	t.Helper()
	d := testutil.NewDelivery(f.ack, tag, "<ReceiptConfirmationMessage/>", amqp.Table{
		queue.HeaderMessageType: "300",
		queue.HeaderAttempts:    int32(0),
	})
	d.MessageId = messageID
	d.Type = queue.TypePassthrough
	require.True(t, f.pool.Deliver("hostA", d), "no consumer on hostA")
}

func (f *consumerFixture) waitSettled(t *testing.T) uint64 {
	t.Helper()
	select {
	case tag := <-f.ack.Settled():
		return tag
	case <-time.After(settleTimeout):
		t.Fatal("delivery was not settled")
		return 0
	}
}

func (f *consumerFixture) hostState(t *testing.T) hosts.State {
	t.Helper()
	s, ok := f.state.State("hostA")
	require.True(t, ok)
	return s
}

func TestConsumer_StartConsuming(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))

	assert.True(t, f.consumer.IsConsuming("hostA"))
	assert.Equal(t, 1, f.pool.ActiveConsumers(), "one subscription per host")

	clients := f.pool.Clients()
	assert.Equal(t, 2, clients[len(clients)-1].Prefetch())
}

func TestConsumer_StartConsumingErrors(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	err := f.consumer.StartConsuming(context.Background(), "unknown")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	f.state.RecordUnrecoverableFailure("hostA")
	err = f.consumer.StartConsuming(context.Background(), "hostA")
	assert.True(t, stderrors.Is(err, queue.ErrHostNotAdmissible))
	assert.False(t, f.consumer.IsConsuming("hostA"))
}

func TestConsumer_Success(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})
	f.state.RecordDeliveryFailure("hostA")
	require.Equal(t, hosts.Inactive, f.hostState(t))

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")

	assert.Equal(t, uint64(1), f.waitSettled(t))
	assert.Equal(t, testutil.Acked, f.ack.Outcome(1))
	assert.Equal(t, hosts.Active, f.hostState(t))
	assert.True(t, f.consumer.IsConsuming("hostA"))

	calls := f.deliverer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "M-1", calls[0].MessageID)
	assert.Equal(t, "300", calls[0].MessageType)
	assert.Equal(t, queue.TypePassthrough, calls[0].DeliveryType)

	assert.Eventually(t, func() bool {
		events, _ := f.journal.Events(context.Background(), "M-1")
		return len(events) == 1 && events[0].Type == journal.EventDelivered
	}, settleTimeout, 10*time.Millisecond)
}

func TestConsumer_RequestCreationError(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			return errors.RequestCreationError("payload is not XML", nil)
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")

	f.waitSettled(t)
	assert.Equal(t, testutil.Rejected, f.ack.Outcome(1))
	assert.Equal(t, hosts.Active, f.hostState(t))
	assert.Equal(t, 0, f.state.Failures("hostA"))
	assert.True(t, f.consumer.IsConsuming("hostA"))
	assert.Empty(t, f.pool.PublishedTo("hostA.retry"))
}

func TestConsumer_ConsumedWithoutSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "message rejected", err: errors.MessageRejectedError("NACK")},
		{name: "response processing", err: errors.ResponseProcessingError("no ack in response", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConsumerFixture(t, fixtureOptions{
				deliver: func(context.Context, hosts.Host, queue.Entry) error { return tt.err },
			})
			f.state.RecordDeliveryFailure("hostA")

			require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
			f.deliver(t, 1, "M-1")

			f.waitSettled(t)
			assert.Equal(t, testutil.Acked, f.ack.Outcome(1))
			assert.Equal(t, hosts.Inactive, f.hostState(t), "no success mark")
			assert.True(t, f.consumer.IsConsuming("hostA"))
		})
	}
}

func TestConsumer_HostUnreachable(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			return errors.HostUnreachableError("hostA", fmt.Errorf("connection refused"))
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")

	f.waitSettled(t)
	assert.Equal(t, testutil.Nacked, f.ack.Outcome(1))
	assert.Equal(t, hosts.Inactive, f.hostState(t))

	retried := f.pool.PublishedTo("hostA.retry")
	require.Len(t, retried, 1)
	assert.Equal(t, "M-1", retried[0].Publishing.MessageId)
	assert.Equal(t, int32(1), retried[0].Publishing.Headers[queue.HeaderAttempts])

	assert.Eventually(t, func() bool { return !f.consumer.IsConsuming("hostA") }, settleTimeout, 10*time.Millisecond)
	assert.Equal(t, 0, f.pool.ActiveConsumers())
}

func TestConsumer_HostUnreachableRetryPublishFails(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			return errors.HostUnreachableError("hostA", fmt.Errorf("timeout"))
		},
	})
	f.pool.Clients()[0].PublishErr = func(routingKey string) error {
		return fmt.Errorf("broker refused %s", routingKey)
	}

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")

	f.waitSettled(t)
	assert.Equal(t, testutil.Requeued, f.ack.Outcome(1))
	assert.Equal(t, hosts.Inactive, f.hostState(t))
}

func TestConsumer_ResumesAfterRetryDelay(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	f := newConsumerFixture(t, fixtureOptions{
		retryDelay: 50 * time.Millisecond,
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			if fail.Load() {
				return errors.HostUnreachableError("hostA", fmt.Errorf("connection refused"))
			}
			return nil
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")
	f.waitSettled(t)
	fail.Store(false)

	// producer, first subscription, resumed subscription
	assert.Eventually(t, func() bool {
		return len(f.pool.Clients()) == 3 && f.consumer.IsConsuming("hostA")
	}, settleTimeout, 10*time.Millisecond)

	f.deliver(t, 2, "M-2")
	f.waitSettled(t)
	assert.Equal(t, testutil.Acked, f.ack.Outcome(2))
	assert.Equal(t, hosts.Active, f.hostState(t))
}

func TestConsumer_AbandonedHostStaysStopped(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{
		threshold:  1,
		retryDelay: 20 * time.Millisecond,
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			return errors.HostUnreachableError("hostA", fmt.Errorf("connection refused"))
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")
	f.waitSettled(t)

	assert.Equal(t, hosts.Abandoned, f.hostState(t))
	assert.Eventually(t, func() bool { return !f.consumer.IsConsuming("hostA") }, settleTimeout, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, f.consumer.IsConsuming("hostA"), "abandoned hosts wait for a reset")

	require.NoError(t, f.consumer.ResumeHost(context.Background(), "hostA"))
	assert.Equal(t, hosts.Active, f.hostState(t))
	assert.True(t, f.consumer.IsConsuming("hostA"))
}

func TestConsumer_ResumeBeforeStartOnlyResets(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	f.state.RecordUnrecoverableFailure("hostA")
	require.Equal(t, hosts.Abandoned, f.hostState(t))

	require.NoError(t, f.consumer.ResumeHost(context.Background(), "hostA"))
	assert.Equal(t, hosts.Active, f.hostState(t))
	assert.False(t, f.consumer.IsConsuming("hostA"))
	assert.Equal(t, 0, f.pool.ActiveConsumers())
}

func TestConsumer_UnrecoverableFailure(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			return errors.UnrecoverableHostError("hostA", fmt.Errorf("invalid URL"))
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")
	f.waitSettled(t)

	assert.Equal(t, hosts.Abandoned, f.hostState(t))
	assert.Equal(t, testutil.Nacked, f.ack.Outcome(1))
	assert.Len(t, f.pool.PublishedTo("hostA.retry"), 1)
	assert.Eventually(t, func() bool { return !f.consumer.IsConsuming("hostA") }, settleTimeout, 10*time.Millisecond)
}

func TestConsumer_InadmissibleHostRequeues(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.state.blocked.Store(true)
	f.deliver(t, 1, "M-1")

	f.waitSettled(t)
	assert.Equal(t, testutil.Requeued, f.ack.Outcome(1))
	assert.Empty(t, f.deliverer.Calls())
	assert.Eventually(t, func() bool { return !f.consumer.IsConsuming("hostA") }, settleTimeout, 10*time.Millisecond)
}

func TestConsumer_AbandonCancelsSubscription(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.state.RecordUnrecoverableFailure("hostA")

	assert.False(t, f.consumer.IsConsuming("hostA"))
	assert.Eventually(t, func() bool { return f.pool.ActiveConsumers() == 0 }, settleTimeout, 10*time.Millisecond)
}

func TestConsumer_StopConsuming(t *testing.T) {
	f := newConsumerFixture(t, fixtureOptions{})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.consumer.StopConsuming("hostA")
	f.consumer.StopConsuming("hostA")

	assert.False(t, f.consumer.IsConsuming("hostA"))
	assert.Equal(t, hosts.Active, f.hostState(t))

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	assert.True(t, f.consumer.IsConsuming("hostA"))
}

func TestConsumer_CloseWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			close(started)
			<-release
			return nil
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	f.deliver(t, 1, "M-1")
	<-started

	closed := make(chan struct{})
	go func() {
		f.consumer.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the in-flight delivery finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(settleTimeout):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, testutil.Acked, f.ack.Outcome(1))

	err := f.consumer.StartConsuming(context.Background(), "hostA")
	assert.Error(t, err)
}

func TestConsumer_ConcurrentDeliveriesWithinPrefetch(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	f := newConsumerFixture(t, fixtureOptions{
		deliver: func(context.Context, hosts.Host, queue.Entry) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil
		},
	})

	require.NoError(t, f.consumer.StartConsuming(context.Background(), "hostA"))
	for tag := uint64(1); tag <= 4; tag++ {
		f.deliver(t, tag, fmt.Sprintf("M-%d", tag))
	}

	assert.Eventually(t, func() bool { return inFlight.Load() == 2 }, settleTimeout, 10*time.Millisecond)
	close(release)
	for i := 0; i < 4; i++ {
		f.waitSettled(t)
	}
	assert.Equal(t, int32(2), peak.Load())
}
