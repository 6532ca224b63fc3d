package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	libRabbitmq "github.com/LerianStudio/lib-uncommons/v2/uncommons/rabbitmq"
	"github.com/LerianStudio/lib-uncommons/v2/uncommons/runtime"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ovenworks/bakeops/events"
	"github.com/ovenworks/bakeops/internal/nilcheck"
)

var (
	ErrBusRequired        = errors.New("broker bus is required")
	ErrConnectionRequired = errors.New("rabbitmq connection is required")
	ErrChannelRequired    = errors.New("rabbitmq channel is required")
	ErrBusStarted         = errors.New("broker bus already started")
)

// Defaults for the bounded-retry contract.
const (
	// DefaultRetryTTL is how long a dead-lettered message parks in the
	// retry queue before the broker republishes it.
	DefaultRetryTTL = 15 * time.Second
	// DefaultMaxRedeliveries is the redelivery ceiling; at or past it the
	// message is dropped with an error log.
	DefaultMaxRedeliveries = 5
)

// confirmPublisher is the narrow publish surface the bus needs; satisfied by
// *libRabbitmq.ConfirmablePublisher.
type confirmPublisher interface {
	Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Bus is the durable broker-backed event bus. Publish is fire-and-confirm:
// it waits for the broker's confirm, never for any consumer. Consumption
// starts only after the registration window closes (Start).
type Bus struct {
	registry        *events.Registry
	channel         Channel
	publisher       confirmPublisher
	logger          libLog.Logger
	retryTTL        time.Duration
	maxRedeliveries int

	mu        sync.Mutex
	started   bool
	stop      chan struct{}
	stopOnce  sync.Once
	consumeWg sync.WaitGroup
}

// Compile-time assertion: *Bus implements events.Bus.
var _ events.Bus = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a structured logger.
func WithLogger(logger libLog.Logger) Option {
	return func(bus *Bus) {
		if !nilcheck.Interface(logger) {
			bus.logger = logger
		}
	}
}

// WithRetryTTL overrides how long failed messages park in the retry queue.
func WithRetryTTL(ttl time.Duration) Option {
	return func(bus *Bus) {
		if ttl > 0 {
			bus.retryTTL = ttl
		}
	}
}

// WithMaxRedeliveries overrides the redelivery ceiling.
func WithMaxRedeliveries(maxRedeliveries int) Option {
	return func(bus *Bus) {
		if maxRedeliveries > 0 {
			bus.maxRedeliveries = maxRedeliveries
		}
	}
}

// WithChannel injects an explicit channel, bypassing the connection. Used by
// tests and by callers managing their own channels.
func WithChannel(ch Channel) Option {
	return func(bus *Bus) {
		if !nilcheck.Interface(ch) {
			bus.channel = ch
		}
	}
}

// WithPublisher injects an explicit publisher, bypassing confirm-mode setup.
func WithPublisher(pub confirmPublisher) Option {
	return func(bus *Bus) {
		if !nilcheck.Interface(pub) {
			bus.publisher = pub
		}
	}
}

// NewBus builds the durable bus on an established broker connection. The
// publish channel is switched to confirm mode so Publish can wait for the
// broker's acknowledgement.
func NewBus(conn *libRabbitmq.RabbitMQConnection, registry *events.Registry, opts ...Option) (*Bus, error) {
	if registry == nil {
		return nil, events.ErrRegistryRequired
	}

	bus := &Bus{
		registry:        registry,
		logger:          libLog.NewNop(),
		retryTTL:        DefaultRetryTTL,
		maxRedeliveries: DefaultMaxRedeliveries,
		stop:            make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}

	if bus.channel == nil {
		if conn == nil {
			return nil, ErrConnectionRequired
		}

		ch, err := conn.GetNewConnect()
		if err != nil {
			return nil, fmt.Errorf("acquire rabbitmq channel: %w", err)
		}

		bus.channel = ch

		if bus.publisher == nil {
			pub, err := libRabbitmq.NewConfirmablePublisherFromChannel(ch, libRabbitmq.WithLogger(bus.logger))
			if err != nil {
				return nil, fmt.Errorf("enable publisher confirms: %w", err)
			}

			bus.publisher = pub
		}
	}

	if bus.publisher == nil {
		return nil, libRabbitmq.ErrPublisherRequired
	}

	return bus, nil
}

// Publish encodes evt and sends it to the events exchange keyed by event
// name, persistent delivery, waiting for the broker confirm. It is not
// coupled to consumer completion in any way.
func (bus *Bus) Publish(ctx context.Context, evt events.Event) error {
	if bus == nil {
		return ErrBusRequired
	}

	body, err := events.Encode(evt)
	if err != nil {
		return err
	}

	tracer := otel.Tracer("rabbitmq")

	ctx, span := tracer.Start(ctx, "events.publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", ExchangeEvents),
		attribute.String("event.name", evt.Name),
	)

	err = bus.publisher.Publish(ctx, ExchangeEvents, evt.Name, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     evt.ID.String(),
		Timestamp:     evt.OccurredAt,
		CorrelationId: evt.CorrelationID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Name, err)
	}

	return nil
}

// Subscribe registers handler for eventName. Subscriptions must complete
// before Start; afterwards the registry is frozen.
func (bus *Bus) Subscribe(eventName string, handler events.Handler) error {
	if bus == nil {
		return ErrBusRequired
	}

	return bus.registry.Subscribe(eventName, handler)
}

// Start closes the registration window, declares the broker topology, binds
// one durable queue per registered event name, and begins consuming. It is a
// one-time operation.
func (bus *Bus) Start(ctx context.Context) error {
	if bus == nil {
		return ErrBusRequired
	}

	bus.mu.Lock()

	if bus.started {
		bus.mu.Unlock()

		return ErrBusStarted
	}

	bus.started = true
	bus.mu.Unlock()

	bus.registry.Freeze()

	if err := declareTopology(bus.channel, bus.retryTTL); err != nil {
		return err
	}

	for _, eventName := range bus.registry.EventNames() {
		queue, err := declareEventQueue(bus.channel, eventName)
		if err != nil {
			return err
		}

		deliveries, err := bus.channel.Consume(queue, "bakeops."+eventName, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		bus.consumeWg.Add(1)

		consumerName := "events-consumer-" + eventName

		runtime.SafeGo(bus.logger, consumerName, runtime.KeepRunning, func() {
			defer bus.consumeWg.Done()
			bus.consumeLoop(ctx, eventName, deliveries)
		})

		bus.logger.Log(ctx, libLog.LevelInfo, "consuming event queue",
			libLog.String("queue", queue),
			libLog.String("event", eventName),
		)
	}

	return nil
}

// Stop ends consumption and closes the publisher. The broker connection
// itself belongs to the caller.
func (bus *Bus) Stop(ctx context.Context) error {
	if bus == nil {
		return ErrBusRequired
	}

	bus.stopOnce.Do(func() { close(bus.stop) })
	bus.consumeWg.Wait()

	if err := bus.publisher.Close(); err != nil {
		bus.logger.Log(ctx, libLog.LevelWarn, "close broker publisher", libLog.Err(err))

		return fmt.Errorf("close broker publisher: %w", err)
	}

	return nil
}
