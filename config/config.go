package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Provider  ProviderConfig  `yaml:"provider"`
	Booking   BookingConfig   `yaml:"booking"`
	Inventory InventoryConfig `yaml:"inventory"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

// GRPCConfig is the listener for grpc.health.v1. An empty address keeps it off.
type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	AlertsTopic        string   `yaml:"alerts_topic"`
	BudgetTopic        string   `yaml:"budget_topic"`
	ConfirmationsTopic string   `yaml:"confirmations_topic"`
	GroupID            string   `yaml:"group_id"`
}

type ProviderConfig struct {
	FlightsURL         string  `yaml:"flights_url"`
	HotelsURL          string  `yaml:"hotels_url"`
	APIKey             string  `yaml:"api_key"`
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
	RatePerSecond      float64 `yaml:"rate_per_second"`
	Burst              int     `yaml:"burst"`
	SafeStepRetries    int     `yaml:"safe_step_retries"`
	RetryBackoffMillis int     `yaml:"retry_backoff_millis"`
}

func (p ProviderConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

func (p ProviderConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMillis) * time.Millisecond
}

type BookingConfig struct {
	SessionTTLMinutes     int `yaml:"session_ttl_minutes"`
	SessionLockTTLSeconds int `yaml:"session_lock_ttl_seconds"`
	HoldTTLMinutes        int `yaml:"hold_ttl_minutes"`
	SyntheticOffers       int `yaml:"synthetic_offers"`
}

func (b BookingConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}

func (b BookingConfig) SessionLockTTL() time.Duration {
	return time.Duration(b.SessionLockTTLSeconds) * time.Second
}

func (b BookingConfig) HoldTTL() time.Duration {
	return time.Duration(b.HoldTTLMinutes) * time.Minute
}

type InventoryConfig struct {
	WarningPct           int `yaml:"warning_pct"`
	CriticalPct          int `yaml:"critical_pct"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

func (i InventoryConfig) SweepInterval() time.Duration {
	return time.Duration(i.SweepIntervalMinutes) * time.Minute
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Provider.CallTimeoutSeconds == 0 {
		c.Provider.CallTimeoutSeconds = 20
	}
	if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 10
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 5
	}
	if c.Provider.SafeStepRetries == 0 {
		c.Provider.SafeStepRetries = 2
	}
	if c.Provider.RetryBackoffMillis == 0 {
		c.Provider.RetryBackoffMillis = 300
	}
	if c.Booking.SessionTTLMinutes == 0 {
		c.Booking.SessionTTLMinutes = 30
	}
	if c.Booking.SessionLockTTLSeconds == 0 {
		c.Booking.SessionLockTTLSeconds = 120
	}
	if c.Booking.HoldTTLMinutes == 0 {
		c.Booking.HoldTTLMinutes = 15
	}
	if c.Booking.SyntheticOffers == 0 {
		c.Booking.SyntheticOffers = 3
	}
	if c.Inventory.WarningPct == 0 {
		c.Inventory.WarningPct = 70
	}
	if c.Inventory.CriticalPct == 0 {
		c.Inventory.CriticalPct = 90
	}
	if c.Inventory.SweepIntervalMinutes == 0 {
		c.Inventory.SweepIntervalMinutes = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Provider.CallTimeoutSeconds < 0 {
		errs = append(errs, errors.New("provider.call_timeout_seconds must be positive"))
	}
	if c.Provider.SafeStepRetries < 0 {
		errs = append(errs, errors.New("provider.safe_step_retries must not be negative"))
	}
	if c.Inventory.WarningPct <= 0 || c.Inventory.WarningPct >= c.Inventory.CriticalPct || c.Inventory.CriticalPct > 100 {
		errs = append(errs, fmt.Errorf("inventory thresholds must satisfy 0 < warning (%d) < critical (%d) <= 100", c.Inventory.WarningPct, c.Inventory.CriticalPct))
	}
	if c.Booking.SyntheticOffers < 0 {
		errs = append(errs, errors.New("booking.synthetic_offers must not be negative"))
	}
	return errors.Join(errs...)
}
