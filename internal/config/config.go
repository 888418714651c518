// Package config loads tradebridge's runtime configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable named in the core's configuration table:
// handoff/mailbox sizing, streaming liveness, signal ingestion timing,
// approval retention and order-client retries.
type Config struct {
	// Streaming Gateway
	GatewayAddr   string        `env:"GATEWAY_ADDR" envDefault:"localhost:8765"`
	PingInterval  time.Duration `env:"PING_INTERVAL" envDefault:"20s"`
	PongDeadline  time.Duration `env:"PONG_DEADLINE" envDefault:"10s"`
	ClientMailbox int           `env:"CLIENT_MAILBOX" envDefault:"256"`

	// Pumping Adapter / Event Dispatcher
	HandoffCapacity       int           `env:"HANDOFF_CAPACITY" envDefault:"4096"`
	SubscriberMailbox     int           `env:"SUBSCRIBER_MAILBOX" envDefault:"256"`
	MaxQuoteUpdatesPerSec int           `env:"MAX_QUOTE_UPDATES_PER_SECOND" envDefault:"10"`
	PumpingStartupWindow  time.Duration `env:"PUMPING_STARTUP_WINDOW" envDefault:"10s"`
	PumpingPingInterval   time.Duration `env:"PUMPING_PING_INTERVAL" envDefault:"5s"`
	PingTimeoutFactor     int           `env:"PUMPING_PING_TIMEOUT_FACTOR" envDefault:"2"`

	// Signal Ingestion Loop
	JournalPath         string        `env:"SIGNAL_JOURNAL_PATH" envDefault:"./signals.json"`
	SignalDebounce      time.Duration `env:"SIGNAL_DEBOUNCE" envDefault:"1s"`
	SignalCheckInterval time.Duration `env:"SIGNAL_CHECK_INTERVAL" envDefault:"30s"`

	// Approval State Machine
	RetentionWindow time.Duration `env:"RETENTION_WINDOW" envDefault:"1h"`

	// Order Client
	RetryMax   int           `env:"RETRY_MAX" envDefault:"3"`
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	MockMode   bool          `env:"MOCK_MODE" envDefault:"true"`

	// Auth
	BearerSecret string `env:"BEARER_SECRET" envDefault:"change-me-in-production"`

	// Distribution bus (optional, empty URL disables it). GatewayOnly
	// runs this process as a streaming-gateway replica fed from the bus
	// instead of a local broker connection.
	NATSURL     string `env:"NATS_URL" envDefault:""`
	GatewayOnly bool   `env:"GATEWAY_ONLY" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads configuration from an optional .env file and then from the
// environment, applying the defaults above. Priority: env vars > .env file
// > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for obviously broken values before the
// server starts.
func (c *Config) Validate() error {
	if c.GatewayAddr == "" {
		return fmt.Errorf("GATEWAY_ADDR is required")
	}
	if c.HandoffCapacity < 1 {
		return fmt.Errorf("HANDOFF_CAPACITY must be > 0, got %d", c.HandoffCapacity)
	}
	if c.SubscriberMailbox < 1 {
		return fmt.Errorf("SUBSCRIBER_MAILBOX must be > 0, got %d", c.SubscriberMailbox)
	}
	if c.ClientMailbox < 1 {
		return fmt.Errorf("CLIENT_MAILBOX must be > 0, got %d", c.ClientMailbox)
	}
	if c.PongDeadline >= c.PingInterval {
		return fmt.Errorf("PONG_DEADLINE (%s) must be less than PING_INTERVAL (%s)", c.PongDeadline, c.PingInterval)
	}
	if c.RetryMax < 1 {
		return fmt.Errorf("RETRY_MAX must be > 0, got %d", c.RetryMax)
	}
	if c.GatewayOnly && c.NATSURL == "" {
		return fmt.Errorf("GATEWAY_ONLY requires NATS_URL")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}

	return nil
}
