package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is process-level configuration. Throttle tuning (interval,
// max attempts, backoff bounds) lives in the database-backed
// DeliveryThrottle row, not here — operators mutate that row, not
// environment variables.
type Config struct {
	// HTTP server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Database
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`

	// Redis backs the idempotency-key store only; the core never touches it.
	RedisURL string `envconfig:"REDIS_URL"`

	// NATS backs optional realtime event fan-out only; the core never touches it.
	NATSURL string `envconfig:"NATS_URL"`

	// Tick cadence; the tick engine is process-level plumbing per spec §4.2.
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"5s"`

	// Gateway process polling cadence (cmd/gateway only).
	GatewayID           string        `envconfig:"GATEWAY_ID" default:"gateway-1"`
	GatewayPollInterval time.Duration `envconfig:"GATEWAY_POLL_INTERVAL" default:"2s"`
	GatewayAPIBaseURL   string        `envconfig:"GATEWAY_API_BASE_URL" default:"http://localhost:8080"`
	GatewaySharedSecret string        `envconfig:"GATEWAY_SHARED_SECRET" default:"dev-secret"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
