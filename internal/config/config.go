package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config is the service configuration, read once from the environment.
type Config struct {
	RunLocal   bool   `env:"RUN_LOCAL" envDefault:"false"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"dynamodb"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"orders.db"`
	IdempotencyTable string `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency"`
	OrdersTable      string `env:"ORDERS_TABLE" envDefault:"orders"`

	OrderEventsQueueURL string `env:"ORDER_EVENTS_QUEUE_URL"`
	MetricsNamespace    string `env:"METRICS_NAMESPACE"`

	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	InventoryBaseURL string        `env:"INVENTORY_BASE_URL" envDefault:"http://localhost:8081"`
	PaymentBaseURL   string        `env:"PAYMENT_BASE_URL" envDefault:"http://localhost:8082"`
	InventoryTimeout time.Duration `env:"INVENTORY_TIMEOUT" envDefault:"3s"`
	PaymentTimeout   time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"5s"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendDynamoDB, BackendSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	return nil
}
