package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/scheduler"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/stats"
)

// Config holds all configuration for bankroll-ledger-service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Locks      LocksConfig      `mapstructure:"locks"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds ledger store configuration
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // sqlite, postgres
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"` // row lock wait (postgres)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Brokers    []string      `mapstructure:"brokers"`
	Topic      string        `mapstructure:"topic"` // Topic to consume from (settlement_feed)
	GroupID    string        `mapstructure:"group_id"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"` // cap between attempts at a failing message
}

// LocksConfig selects the row lock manager
type LocksConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis
	Timeout       time.Duration `mapstructure:"timeout"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// SettlementConfig holds settlement and analytics parameters
type SettlementConfig struct {
	KellyMultiplier float64 `mapstructure:"kelly_multiplier"` // 0.25 = quarter Kelly
	PayoutTolerance float64 `mapstructure:"payout_tolerance"` // 0 disables the payout check
	TiltWindow      int     `mapstructure:"tilt_window"`
	TiltStakeWeight float64 `mapstructure:"tilt_stake_weight"`
	TiltLossWeight  float64 `mapstructure:"tilt_loss_weight"`
}

// SchedulerConfig holds settlement sweep configuration
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:ledger.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.lock_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "settlement_feed")
	v.SetDefault("kafka.group_id", "bankroll-ledger")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_delay", 200*time.Millisecond)
	v.SetDefault("kafka.max_backoff", 30*time.Second)

	v.SetDefault("locks.backend", "memory")
	v.SetDefault("locks.timeout", 5*time.Second)
	v.SetDefault("locks.ttl", 30*time.Second)
	v.SetDefault("locks.retry_interval", 25*time.Millisecond)

	v.SetDefault("settlement.kelly_multiplier", 0.25)
	v.SetDefault("settlement.payout_tolerance", 0.01)
	v.SetDefault("settlement.tilt_window", 10)
	v.SetDefault("settlement.tilt_stake_weight", 40.0)
	v.SetDefault("settlement.tilt_loss_weight", 10.0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.rate_per_second", 50.0)
	v.SetDefault("scheduler.max_retries", 5)
	v.SetDefault("scheduler.initial_backoff", 50*time.Millisecond)
	v.SetDefault("scheduler.max_backoff", 2*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("BANKROLL_LEDGER")
	v.AutomaticEnv()
	// Replace . with _ for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Locks.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported lock backend %q", c.Locks.Backend)
	}
	if c.Locks.Timeout <= 0 {
		return fmt.Errorf("locks.timeout must be positive")
	}
	if c.Settlement.PayoutTolerance < 0 {
		return fmt.Errorf("settlement.payout_tolerance must not be negative")
	}
	if c.Settlement.KellyMultiplier < 0 || c.Settlement.KellyMultiplier > 1 {
		return fmt.Errorf("settlement.kelly_multiplier must be within [0, 1]")
	}
	return nil
}

// ToTiltParams converts config to tilt score weights
func (c *SettlementConfig) ToTiltParams() stats.TiltParams {
	return stats.TiltParams{
		Window:      c.TiltWindow,
		StakeWeight: c.TiltStakeWeight,
		LossWeight:  c.TiltLossWeight,
	}
}

// ToSettlementParams converts config to settlement engine parameters
func (c *SettlementConfig) ToSettlementParams() service.SettlementParams {
	return service.SettlementParams{
		PayoutTolerance: decimal.NewFromFloat(c.PayoutTolerance),
		KellyMultiplier: c.KellyMultiplier,
		Tilt:            c.ToTiltParams(),
	}
}

// ToBackoff converts config to the sweep retry policy
func (c *SchedulerConfig) ToBackoff() scheduler.Backoff {
	return scheduler.Backoff{
		MaxRetries: c.MaxRetries,
		Initial:    c.InitialBackoff,
		Max:        c.MaxBackoff,
		Multiplier: 2,
	}
}

// ToSchedulerConfig converts config to scheduler settings
func (c *SchedulerConfig) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:      c.Interval,
		BatchSize:     c.BatchSize,
		Concurrency:   c.Concurrency,
		RatePerSecond: c.RatePerSecond,
		Backoff:       c.ToBackoff(),
	}
}
