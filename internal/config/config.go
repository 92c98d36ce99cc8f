// Package config provides configuration management for the LI gateway.
// It loads configuration from environment variables with sensible defaults
// and validates it so the gateway refuses to start half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file; stdout when empty
//   - TLS_CERT_FILE / TLS_KEY_FILE: Serve HTTPS when both are set
//   - INBOUND_PATH: Path of the inbound SOAP endpoint
//     (default: /LIMessageProcessing/http/UICCCMessageProcessing/UICCCMessageProcessingInboundWS)
//   - CONNECTOR_PATH: Path of the local connector's sendOutboundMessage endpoint
//     (default: /LIMessageProcessing/http/OutboundConnectorService)
//
// Static Configuration:
//   - SCHEMA_DIR: Directory holding the versioned XSD files (required)
//   - HOSTS_FILE: CSV host list (required)
//   - ROUTES_FILE: CSV route table (required)
//
// Message Queue:
//   - RABBITMQ_URL: RabbitMQ connection URL (required)
//   - RABBITMQ_POOL_SIZE: Connection pool size (default: 5)
//   - QUEUE_PREFETCH: Unacknowledged entries in flight per host (default: 1)
//   - QUEUE_RETRY_DELAY: Delay before an undelivered entry is redelivered, 1ms to ~596h (default: 30s)
//   - CONSUMER_ENABLED: Start per-host consumers at boot (default: true)
//
// Delivery:
//   - OUTBOUND_TIMEOUT: Timeout for a single outbound call (default: 30s)
//   - HOST_ABANDON_THRESHOLD: Consecutive failures before a host is abandoned (default: 3)
//   - HEARTBEAT_ENABLED: Schedule host heartbeats (default: true)
//
// Protocol Identity:
//   - REMOTE_LI_NAME: Name this gateway reports in technical acks (default: LIName)
//   - REMOTE_LI_INSTANCE: Instance number reported in technical acks (default: 19)
//   - MESSAGE_LI_HOST: Value sent as messageLiHost on outbound calls (default: LIName)
//
// Journal:
//   - JOURNAL_PATH: SQLite file for the message journal; disabled when empty
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"li-gateway/internal/common/validation"
)

// DefaultInboundPath is the endpoint path LI hosts post UIC messages to.
const DefaultInboundPath = "/LIMessageProcessing/http/UICCCMessageProcessing/UICCCMessageProcessingInboundWS"

// DefaultConnectorPath is the endpoint the local connector posts outbound messages to.
const DefaultConnectorPath = "/LIMessageProcessing/http/OutboundConnectorService"

// maxRetryDelay is the largest per-queue message TTL RabbitMQ accepts, in
// whole milliseconds.
const maxRetryDelay = math.MaxInt32 * time.Millisecond

// Config holds all configuration values for the gateway.
//
// The configuration is loaded using Load() and should be validated using
// Validate() before use.
type Config struct {
	// Application settings
	Port          string
	LogLevel      string
	TLSCertFile   string
	TLSKeyFile    string
	InboundPath   string
	ConnectorPath string

	// Static configuration sources
	SchemaDir  string
	HostsFile  string
	RoutesFile string

	// Message queue
	RabbitMQURL      string
	RabbitMQPoolSize int
	QueuePrefetch    int
	QueueRetryDelay  time.Duration
	ConsumerEnabled  bool

	// Delivery
	OutboundTimeout      time.Duration
	HostAbandonThreshold int
	HeartbeatEnabled     bool

	// Identity reported in technical acknowledgments
	RemoteLIName     string
	RemoteLIInstance int
	MessageLIHost    string

	// Optional SQLite message journal
	JournalPath string

	// invalidBools lists boolean variables whose values did not parse
	invalidBools []string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	var invalid []string
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		TLSCertFile:   getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:    getEnv("TLS_KEY_FILE", ""),
		InboundPath:   getEnv("INBOUND_PATH", DefaultInboundPath),
		ConnectorPath: getEnv("CONNECTOR_PATH", DefaultConnectorPath),

		SchemaDir:  getEnv("SCHEMA_DIR", ""),
		HostsFile:  getEnv("HOSTS_FILE", ""),
		RoutesFile: getEnv("ROUTES_FILE", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQPoolSize: getIntEnv("RABBITMQ_POOL_SIZE", 5),
		QueuePrefetch:    getIntEnv("QUEUE_PREFETCH", 1),
		QueueRetryDelay:  getDurationEnv("QUEUE_RETRY_DELAY", 30*time.Second),
		ConsumerEnabled:  getBoolEnv("CONSUMER_ENABLED", true, &invalid),

		OutboundTimeout:      getDurationEnv("OUTBOUND_TIMEOUT", 30*time.Second),
		HostAbandonThreshold: getIntEnv("HOST_ABANDON_THRESHOLD", 3),
		HeartbeatEnabled:     getBoolEnv("HEARTBEAT_ENABLED", true, &invalid),

		RemoteLIName:     getEnv("REMOTE_LI_NAME", "LIName"),
		RemoteLIInstance: getIntEnv("REMOTE_LI_INSTANCE", 19),
		MessageLIHost:    getEnv("MESSAGE_LI_HOST", "LIName"),

		JournalPath: getEnv("JOURNAL_PATH", ""),
	}
	cfg.invalidBools = invalid
	return cfg
}

// getEnv retrieves an environment variable value or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Unparseable values are appended to invalid so Validate reports them.
func getBoolEnv(key string, defaultValue bool, invalid *[]string) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			*invalid = append(*invalid, key)
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a default value.
// Unparseable values yield -1 so Validate reports them instead of silently using the default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return -1
		}
		return parsed
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns a default value.
// Unparseable values yield zero so Validate reports them.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0
		}
		return parsed
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are usable. All problems are reported
// together.
func (c *Config) Validate() error {
	v := validation.NewValidatorWithPrefix("config")

	v.RequireString(c.Port, "PORT").
		RequireString(c.SchemaDir, "SCHEMA_DIR").
		RequireString(c.HostsFile, "HOSTS_FILE").
		RequireString(c.RoutesFile, "ROUTES_FILE").
		RequireURL(c.RabbitMQURL, "RABBITMQ_URL").
		RequirePath(c.InboundPath, "INBOUND_PATH").
		RequirePath(c.ConnectorPath, "CONNECTOR_PATH").
		RequirePositive(c.RabbitMQPoolSize, "RABBITMQ_POOL_SIZE").
		RequirePositive(c.QueuePrefetch, "QUEUE_PREFETCH").
		RequireDurationBetween(c.QueueRetryDelay, time.Millisecond, maxRetryDelay, "QUEUE_RETRY_DELAY").
		RequirePositiveDuration(c.OutboundTimeout, "OUTBOUND_TIMEOUT").
		RequirePositive(c.HostAbandonThreshold, "HOST_ABANDON_THRESHOLD").
		RequireString(c.RemoteLIName, "REMOTE_LI_NAME").
		RequireNonNegative(c.RemoteLIInstance, "REMOTE_LI_INSTANCE").
		RequireString(c.MessageLIHost, "MESSAGE_LI_HOST")

	for _, key := range c.invalidBools {
		v.Validate(func() error {
			return fmt.Errorf("config: %s must be a boolean", key)
		})
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		v.Validate(func() error {
			return errTLSPair
		})
	}

	return v.Error()
}

// IsTLSEnabled reports whether both TLS files are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
