package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr          string        `env:"ANIMSTREAM_ADDR" envDefault:":8080"`
	MetricsAddr   string        `env:"ANIMSTREAM_METRICS_ADDR" envDefault:":9090"`
	Environment   string        `env:"ANIMSTREAM_ENV" envDefault:"development"`
	AuthEnabled   bool          `env:"AUTH_ENABLED" envDefault:"false"`
	APIKeyHeader  string        `env:"API_KEY_HEADER" envDefault:"X-API-Key"`
	JWTSecret     string        `env:"JWT_SECRET"`
	DBDriver      string        `env:"ANIMSTREAM_DB_DRIVER" envDefault:"memory"`
	DBDSN         string        `env:"ANIMSTREAM_DB_DSN"`
	IdleTTL       time.Duration `env:"ANIMSTREAM_IDLE_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"ANIMSTREAM_SWEEP_INTERVAL" envDefault:"1m"`
	MigrationsDir string        `env:"ANIMSTREAM_MIGRATIONS_DIR"`
	OTelEndpoint  string        `env:"ANIMSTREAM_OTEL_ENDPOINT"`
	ServiceName   string        `env:"ANIMSTREAM_SERVICE_NAME" envDefault:"animstream"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.DBDriver) {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("ANIMSTREAM_DB_DSN is required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.IdleTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("idle ttl and sweep interval must be positive")
	}
	return nil
}
