// Package config содержит логику чтения конфигурации сервиса выдачи книг.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/library-circulation/internal/service"
)

// Config содержит параметры конфигурации сервиса выдачи книг.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	SQLitePath           string `env:"SQLITE_PATH"`
	AuthSecret           string `env:"AUTH_SECRET"`
	NotifyServiceAddress string `env:"NOTIFY_SERVICE_ADDRESS"`

	FineRatePerDay  int64         `env:"FINE_RATE_PER_DAY" envDefault:"100"`
	MaxActiveLoans  int           `env:"MAX_ACTIVE_LOANS" envDefault:"5"`
	MaxExtension    time.Duration `env:"MAX_EXTENSION" envDefault:"720h"`
	ReservationHold time.Duration `env:"RESERVATION_HOLD" envDefault:"168h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSQLitePath := cfg.SQLitePath
	envNotifyAddress := cfg.NotifyServiceAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL database URI")
	flag.StringVar(&cfg.SQLitePath, "s", "circulation.db", "SQLite database file, used when no database URI is set")
	flag.StringVar(&cfg.NotifyServiceAddress, "n", "", "notification service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSQLitePath != "" {
		cfg.SQLitePath = envSQLitePath
	}
	if envNotifyAddress != "" {
		cfg.NotifyServiceAddress = envNotifyAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Policy().Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}

	return cfg, nil
}

// Policy собирает правила выдачи из конфигурации.
func (c *Config) Policy() service.Policy {
	return service.Policy{
		MaxActiveLoans:  c.MaxActiveLoans,
		FineRatePerDay:  c.FineRatePerDay,
		MaxExtension:    c.MaxExtension,
		ReservationHold: c.ReservationHold,
	}
}
