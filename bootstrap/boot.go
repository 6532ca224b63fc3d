package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	libRabbitmq "github.com/LerianStudio/lib-uncommons/v2/uncommons/rabbitmq"
	libZap "github.com/LerianStudio/lib-uncommons/v2/uncommons/zap"
	"go.uber.org/zap"

	"github.com/ovenworks/bakeops/events"
	"github.com/ovenworks/bakeops/events/rabbitmq"
	"github.com/ovenworks/bakeops/internal/nilcheck"
	"github.com/ovenworks/bakeops/stream"
)

var (
	// ErrCoreRequired is returned when a nil Core is used.
	ErrCoreRequired = errors.New("event core is required")
	// ErrCoreStarted is returned when Start is called twice.
	ErrCoreStarted = errors.New("event core already started")
)

const (
	// DefaultConnectAttempts is how many broker dials Boot makes before
	// settling for the in-process bus.
	DefaultConnectAttempts = 3
	// DefaultConnectBackoff is the base delay between dial attempts.
	DefaultConnectBackoff = 500 * time.Millisecond
)

// brokerConnector establishes the broker connection. Swapped in tests.
type brokerConnector func(ctx context.Context, cfg Config, logger libLog.Logger) (*libRabbitmq.RabbitMQConnection, error)

// Core is the handle Boot returns: the selected bus, the subscription
// registry, and the live-stream manager, ready for feature packages to
// subscribe against before Start.
type Core struct {
	registry *events.Registry
	manager  *stream.Manager
	bus      events.Bus
	logger   libLog.Logger

	broker *rabbitmq.Bus
	conn   *libRabbitmq.RabbitMQConnection

	started bool
}

// Bus returns the selected event bus.
func (core *Core) Bus() events.Bus { return core.bus }

// Registry returns the shared subscription registry.
func (core *Core) Registry() *events.Registry { return core.registry }

// Streams returns the live-stream fan-out manager.
func (core *Core) Streams() *stream.Manager { return core.manager }

// Degraded reports whether the core fell back to the in-process bus.
func (core *Core) Degraded() bool { return core.broker == nil }

// Option configures Boot.
type Option func(*booter)

type booter struct {
	logger  libLog.Logger
	connect brokerConnector
}

// WithLogger sets the logger for the core and everything it constructs.
func WithLogger(logger libLog.Logger) Option {
	return func(b *booter) {
		if nilcheck.Interface(logger) {
			return
		}

		b.logger = logger
	}
}

// WithBrokerConnector overrides how the broker connection is established.
func WithBrokerConnector(connect brokerConnector) Option {
	return func(b *booter) {
		if connect == nil {
			return
		}

		b.connect = connect
	}
}

// NewLogger builds the production structured logger from config, returning
// the runtime-adjustable level handle alongside it.
func NewLogger(cfg Config) (libLog.Logger, zap.AtomicLevel, error) {
	logger, err := libZap.New(libZap.Config{
		Environment:     libZap.Environment(cfg.Environment),
		Level:           cfg.LogLevel,
		OTelLibraryName: "github.com/ovenworks/bakeops",
	})
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}

	return logger, logger.Level(), nil
}

func connectBroker(ctx context.Context, cfg Config, logger libLog.Logger) (*libRabbitmq.RabbitMQConnection, error) {
	conn := &libRabbitmq.RabbitMQConnection{
		ConnectionStringSource: cfg.BrokerURL(),
		HealthCheckURL:         cfg.BrokerHealthURL,
		Host:                   cfg.BrokerHost,
		Port:                   cfg.BrokerPort,
		User:                   cfg.BrokerUser,
		Pass:                   cfg.BrokerPass,
		VHost:                  cfg.BrokerVHost,
		Logger:                 logger,
	}

	if err := conn.ConnectContext(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// dialWithBackoff retries the broker dial with jittered exponential pacing.
// Context cancellation ends the retries early.
func dialWithBackoff(ctx context.Context, cfg Config, b *booter) (*libRabbitmq.RabbitMQConnection, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}

	base := cfg.ConnectBackoff
	if base <= 0 {
		base = DefaultConnectBackoff
	}

	var lastErr error

	for attempt := range attempts {
		conn, err := b.connect(ctx, cfg, b.logger)
		if err == nil {
			return conn, nil
		}

		lastErr = err

		if attempt == attempts-1 {
			break
		}

		b.logger.Log(ctx, libLog.LevelWarn, "broker dial failed, retrying",
			libLog.Int("attempt", attempt+1),
			libLog.Err(err),
		)

		if err := backoff.WaitContext(ctx, backoff.ExponentialWithJitter(base, attempt)); err != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// Boot constructs the event core. It tries the durable broker bus first and
// falls back to the in-process bus when the broker cannot be reached, so a
// broker outage delays consistency instead of blocking startup.
func Boot(ctx context.Context, cfg Config, opts ...Option) (*Core, error) {
	b := &booter{
		logger:  libLog.NewNop(),
		connect: connectBroker,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	core := &Core{
		registry: events.NewRegistry(),
		manager:  stream.NewManager(b.logger),
		logger:   b.logger,
	}

	conn, err := dialWithBackoff(ctx, cfg, b)
	if err == nil {
		broker, busErr := rabbitmq.NewBus(conn, core.registry,
			rabbitmq.WithLogger(b.logger),
			rabbitmq.WithRetryTTL(cfg.RetryTTL),
			rabbitmq.WithMaxRedeliveries(cfg.MaxRedeliveries),
		)
		if busErr != nil {
			return nil, fmt.Errorf("build broker bus: %w", busErr)
		}

		core.broker = broker
		core.conn = conn
		core.bus = broker
	} else {
		b.logger.Log(ctx, libLog.LevelWarn,
			"broker unreachable, falling back to in-process event bus; durable delivery disabled until restart",
			libLog.String("host", cfg.BrokerHost),
			libLog.Err(err),
		)

		inProc, busErr := events.NewInProcessBus(core.registry, b.logger)
		if busErr != nil {
			return nil, fmt.Errorf("build in-process bus: %w", busErr)
		}

		core.bus = inProc
	}

	if err := stream.RegisterFanout(core.bus, core.manager); err != nil {
		return nil, fmt.Errorf("register live-stream fan-out: %w", err)
	}

	return core, nil
}

// Start closes the registration window and begins consumption. All Subscribe
// calls must happen before this point.
func (core *Core) Start(ctx context.Context) error {
	if core == nil {
		return ErrCoreRequired
	}

	if core.started {
		return ErrCoreStarted
	}

	core.started = true

	if core.broker != nil {
		if err := core.broker.Start(ctx); err != nil {
			return fmt.Errorf("start broker bus: %w", err)
		}
	} else {
		core.registry.Freeze()
	}

	core.logger.Log(ctx, libLog.LevelInfo, "event core started",
		libLog.String("mode", core.mode()),
		libLog.Int("event_names", len(core.registry.EventNames())),
	)

	return nil
}

// Shutdown stops consumers and closes the broker connection. Safe to call in
// degraded mode.
func (core *Core) Shutdown(ctx context.Context) error {
	if core == nil {
		return ErrCoreRequired
	}

	if core.broker == nil {
		return nil
	}

	if err := core.broker.Stop(ctx); err != nil {
		return err
	}

	if err := core.conn.CloseContext(ctx); err != nil {
		return fmt.Errorf("close broker connection: %w", err)
	}

	return nil
}

func (core *Core) mode() string {
	if core.broker != nil {
		return "durable"
	}

	return "in-process"
}
