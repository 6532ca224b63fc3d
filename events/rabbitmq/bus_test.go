package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenworks/bakeops/events"
	"github.com/ovenworks/bakeops/order"
)

type declaredExchange struct {
	name    string
	kind    string
	durable bool
}

type declaredQueue struct {
	name    string
	durable bool
	args    amqp.Table
}

type declaredBinding struct {
	queue    string
	key      string
	exchange string
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []declaredExchange
	queues     []declaredQueue
	bindings   []declaredBinding
	consumed   []string
	deliveries map[string]chan amqp.Delivery

	exchangeErr error
	queueErr    error
	bindErr     error
	consumeErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(map[string]chan amqp.Delivery)}
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.exchangeErr != nil {
		return ch.exchangeErr
	}

	ch.exchanges = append(ch.exchanges, declaredExchange{name: name, kind: kind, durable: durable})

	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.queueErr != nil {
		return amqp.Queue{}, ch.queueErr
	}

	ch.queues = append(ch.queues, declaredQueue{name: name, durable: durable, args: args})

	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.bindErr != nil {
		return ch.bindErr
	}

	ch.bindings = append(ch.bindings, declaredBinding{queue: name, key: key, exchange: exchange})

	return nil
}

func (ch *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.consumeErr != nil {
		return nil, ch.consumeErr
	}

	ch.consumed = append(ch.consumed, queue)

	deliveries := make(chan amqp.Delivery, 8)
	ch.deliveries[queue] = deliveries

	return deliveries, nil
}

type recordedPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	mu         sync.Mutex
	published  []recordedPublish
	publishErr error
	closed     bool
}

func (pub *fakePublisher) Publish(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if pub.publishErr != nil {
		return pub.publishErr
	}

	pub.published = append(pub.published, recordedPublish{exchange: exchange, key: key, msg: msg})

	return nil
}

func (pub *fakePublisher) Close() error {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	pub.closed = true

	return nil
}

type ackCall struct {
	method  string
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, ackCall{method: "ack"})

	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, ackCall{method: "nack", requeue: requeue})

	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, ackCall{method: "reject", requeue: requeue})

	return nil
}

func (a *fakeAcknowledger) recorded() []ackCall {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ackCall, len(a.calls))
	copy(out, a.calls)

	return out
}

func newTestBus(t *testing.T, registry *events.Registry, opts ...Option) *Bus {
	t.Helper()

	base := []Option{WithChannel(newFakeChannel()), WithPublisher(&fakePublisher{})}

	bus, err := NewBus(nil, registry, append(base, opts...)...)
	require.NoError(t, err)

	return bus
}

func encodedStatusChanged(t *testing.T) []byte {
	t.Helper()

	evt, err := events.New(events.OrderStatusChanged{
		OrderID:        uuid.New(),
		StoreID:        uuid.New(),
		PreviousStatus: order.StatusInProgress,
		NewStatus:      order.StatusReady,
	})
	require.NoError(t, err)

	body, err := events.Encode(evt)
	require.NoError(t, err)

	return body
}

func TestNewBus_Validation(t *testing.T) {
	t.Parallel()

	t.Run("nil registry", func(t *testing.T) {
		t.Parallel()

		_, err := NewBus(nil, nil)
		assert.ErrorIs(t, err, events.ErrRegistryRequired)
	})

	t.Run("nil connection without channel", func(t *testing.T) {
		t.Parallel()

		_, err := NewBus(nil, events.NewRegistry())
		assert.ErrorIs(t, err, ErrConnectionRequired)
	})

	t.Run("channel without publisher", func(t *testing.T) {
		t.Parallel()

		_, err := NewBus(nil, events.NewRegistry(), WithChannel(newFakeChannel()))
		assert.Error(t, err)
	})
}

func TestDeclareTopology(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()

	require.NoError(t, declareTopology(ch, 30*time.Second))

	require.Len(t, ch.exchanges, 2)
	assert.Equal(t, declaredExchange{name: ExchangeEvents, kind: "topic", durable: true}, ch.exchanges[0])
	assert.Equal(t, declaredExchange{name: ExchangeDeadLetter, kind: "fanout", durable: true}, ch.exchanges[1])

	require.Len(t, ch.queues, 1)
	retry := ch.queues[0]
	assert.Equal(t, QueueRetry, retry.name)
	assert.True(t, retry.durable)
	assert.Equal(t, int64(30000), retry.args["x-message-ttl"])
	assert.Equal(t, ExchangeEvents, retry.args["x-dead-letter-exchange"])

	require.Len(t, ch.bindings, 1)
	assert.Equal(t, declaredBinding{queue: QueueRetry, key: "", exchange: ExchangeDeadLetter}, ch.bindings[0])
}

func TestDeclareEventQueue(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()

	queue, err := declareEventQueue(ch, events.EventOrderCreated)
	require.NoError(t, err)
	assert.Equal(t, "evt.order.created", queue)

	require.Len(t, ch.queues, 1)
	assert.True(t, ch.queues[0].durable)
	assert.Equal(t, ExchangeDeadLetter, ch.queues[0].args["x-dead-letter-exchange"])

	require.Len(t, ch.bindings, 1)
	assert.Equal(t, declaredBinding{queue: queue, key: events.EventOrderCreated, exchange: ExchangeEvents}, ch.bindings[0])
}

func TestBus_Publish(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	bus := newTestBus(t, events.NewRegistry(), WithPublisher(pub))

	evt, err := events.New(events.OrderCreated{
		OrderID:     uuid.New(),
		StoreID:     uuid.New(),
		CustomerID:  uuid.New(),
		TotalAmount: decimal.NewFromFloat(42.50),
	}, events.WithCorrelationID("corr-123"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, ExchangeEvents, got.exchange)
	assert.Equal(t, events.EventOrderCreated, got.key)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "corr-123", got.msg.CorrelationId)

	var envelope map[string]json.RawMessage

	require.NoError(t, json.Unmarshal(got.msg.Body, &envelope))
	assert.JSONEq(t, `"order.created"`, string(envelope["eventName"]))
}

func TestBus_Publish_BrokerError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{publishErr: errors.New("broker gone")}
	bus := newTestBus(t, events.NewRegistry(), WithPublisher(pub))

	evt, err := events.New(events.OrderStatusChanged{
		OrderID:        uuid.New(),
		StoreID:        uuid.New(),
		PreviousStatus: order.StatusReceived,
		NewStatus:      order.StatusInProgress,
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestRedeliveryCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{
			name:    "no history",
			headers: amqp.Table{},
			want:    0,
		},
		{
			name: "single entry",
			headers: amqp.Table{
				"x-death": []any{amqp.Table{"count": int64(2)}},
			},
			want: 2,
		},
		{
			name: "summed across entries",
			headers: amqp.Table{
				"x-death": []any{
					amqp.Table{"count": int64(1)},
					amqp.Table{"count": int64(2)},
				},
			},
			want: 3,
		},
		{
			name: "malformed entries ignored",
			headers: amqp.Table{
				"x-death": []any{"garbage", amqp.Table{"count": "nope"}, amqp.Table{"count": int64(4)}},
			},
			want: 4,
		},
		{
			name: "wrong header type",
			headers: amqp.Table{
				"x-death": "not-a-list",
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, redeliveryCount(tt.headers))
		})
	}
}

func TestBus_HandleDelivery_AckOnSuccess(t *testing.T) {
	t.Parallel()

	registry := events.NewRegistry()
	handled := false

	require.NoError(t, registry.Subscribe(events.EventOrderStatusChanged, func(context.Context, events.Event) error {
		handled = true

		return nil
	}))

	bus := newTestBus(t, registry)
	acker := &fakeAcknowledger{}

	bus.handleDelivery(context.Background(), events.EventOrderStatusChanged, amqp.Delivery{
		Acknowledger: acker,
		Body:         encodedStatusChanged(t),
	})

	assert.True(t, handled)
	assert.Equal(t, []ackCall{{method: "ack"}}, acker.recorded())
}

func TestBus_HandleDelivery_NackRoutesToRetry(t *testing.T) {
	t.Parallel()

	registry := events.NewRegistry()
	require.NoError(t, registry.Subscribe(events.EventOrderStatusChanged, func(context.Context, events.Event) error {
		return errors.New("handler down")
	}))

	bus := newTestBus(t, registry)
	acker := &fakeAcknowledger{}

	bus.handleDelivery(context.Background(), events.EventOrderStatusChanged, amqp.Delivery{
		Acknowledger: acker,
		Body:         encodedStatusChanged(t),
		Headers: amqp.Table{
			"x-death": []any{amqp.Table{"count": int64(2)}},
		},
	})

	assert.Equal(t, []ackCall{{method: "nack", requeue: false}}, acker.recorded())
}

func TestBus_HandleDelivery_DropsAtMaxRedeliveries(t *testing.T) {
	t.Parallel()

	registry := events.NewRegistry()
	require.NoError(t, registry.Subscribe(events.EventOrderStatusChanged, func(context.Context, events.Event) error {
		return errors.New("still failing")
	}))

	bus := newTestBus(t, registry, WithMaxRedeliveries(3))
	acker := &fakeAcknowledger{}

	bus.handleDelivery(context.Background(), events.EventOrderStatusChanged, amqp.Delivery{
		Acknowledger: acker,
		Body:         encodedStatusChanged(t),
		Headers: amqp.Table{
			"x-death": []any{
				amqp.Table{"count": int64(2)},
				amqp.Table{"count": int64(1)},
			},
		},
	})

	// Acked, not nacked: the message leaves the broker for good.
	assert.Equal(t, []ackCall{{method: "ack"}}, acker.recorded())
}

func TestBus_HandleDelivery_PoisonMessageNacked(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, events.NewRegistry())
	acker := &fakeAcknowledger{}

	bus.handleDelivery(context.Background(), events.EventOrderCreated, amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte("{not json"),
	})

	assert.Equal(t, []ackCall{{method: "nack", requeue: false}}, acker.recorded())
}

func TestBus_StartConsumesRegisteredQueues(t *testing.T) {
	t.Parallel()

	registry := events.NewRegistry()
	handled := make(chan events.Event, 1)

	require.NoError(t, registry.Subscribe(events.EventOrderStatusChanged, func(_ context.Context, evt events.Event) error {
		handled <- evt

		return nil
	}))

	ch := newFakeChannel()
	bus := newTestBus(t, registry, WithChannel(ch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Start(ctx))

	assert.Equal(t, []string{"evt.order.statusChanged"}, ch.consumed)

	// Registration window closed once consumption starts.
	err := registry.Subscribe(events.EventOrderCreated, func(context.Context, events.Event) error { return nil })
	assert.ErrorIs(t, err, events.ErrRegistryFrozen)

	ch.deliveries["evt.order.statusChanged"] <- amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		Body:         encodedStatusChanged(t),
	}

	select {
	case evt := <-handled:
		assert.Equal(t, events.EventOrderStatusChanged, evt.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was never dispatched")
	}

	require.NoError(t, bus.Stop(ctx))
}

func TestBus_StartTwice(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, events.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Start(ctx))
	assert.ErrorIs(t, bus.Start(ctx), ErrBusStarted)

	require.NoError(t, bus.Stop(ctx))
}

func TestBus_StopClosesPublisher(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	bus := newTestBus(t, events.NewRegistry(), WithPublisher(pub))

	require.NoError(t, bus.Stop(context.Background()))
	assert.True(t, pub.closed)
}
