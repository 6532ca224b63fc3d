package bootstrap

import (
	"strconv"
	"time"

	libCommons "github.com/LerianStudio/lib-uncommons/v2/uncommons"
	libRabbitmq "github.com/LerianStudio/lib-uncommons/v2/uncommons/rabbitmq"

	"github.com/ovenworks/bakeops/events/rabbitmq"
)

// Config carries everything Boot needs, loaded from the environment with
// local-development defaults.
type Config struct {
	Environment string
	LogLevel    string

	BrokerProtocol string
	BrokerHost     string
	BrokerPort     string
	BrokerUser     string
	BrokerPass     string
	BrokerVHost    string

	// BrokerHealthURL is the management API endpoint probed during connect.
	BrokerHealthURL string

	RetryTTL        time.Duration
	MaxRedeliveries int

	// ConnectAttempts bounds the broker dial retries before the boot falls
	// back to the in-process bus.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// FromEnv loads the configuration. Malformed duration or integer values fall
// back to the defaults rather than failing boot.
func FromEnv() Config {
	return Config{
		Environment: libCommons.GetenvOrDefault("ENV_NAME", "local"),
		LogLevel:    libCommons.GetenvOrDefault("LOG_LEVEL", ""),

		BrokerProtocol: libCommons.GetenvOrDefault("RABBITMQ_PROTOCOL", "amqp"),
		BrokerHost:     libCommons.GetenvOrDefault("RABBITMQ_HOST", "localhost"),
		BrokerPort:     libCommons.GetenvOrDefault("RABBITMQ_PORT", "5672"),
		BrokerUser:     libCommons.GetenvOrDefault("RABBITMQ_USER", "guest"),
		BrokerPass:     libCommons.GetenvOrDefault("RABBITMQ_PASS", "guest"),
		BrokerVHost:    libCommons.GetenvOrDefault("RABBITMQ_VHOST", ""),

		BrokerHealthURL: libCommons.GetenvOrDefault("RABBITMQ_HEALTH_URL", ""),

		RetryTTL:        durationOrDefault("EVENTS_RETRY_TTL", rabbitmq.DefaultRetryTTL),
		MaxRedeliveries: intOrDefault("EVENTS_MAX_REDELIVERIES", rabbitmq.DefaultMaxRedeliveries),

		ConnectAttempts: intOrDefault("BROKER_CONNECT_ATTEMPTS", DefaultConnectAttempts),
		ConnectBackoff:  durationOrDefault("BROKER_CONNECT_BACKOFF", DefaultConnectBackoff),
	}
}

// BrokerURL renders the AMQP connection string.
func (cfg Config) BrokerURL() string {
	return libRabbitmq.BuildRabbitMQConnectionString(
		cfg.BrokerProtocol,
		cfg.BrokerUser,
		cfg.BrokerPass,
		cfg.BrokerHost,
		cfg.BrokerPort,
		cfg.BrokerVHost,
	)
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := libCommons.GetenvOrDefault(key, "")
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := libCommons.GetenvOrDefault(key, "")
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
