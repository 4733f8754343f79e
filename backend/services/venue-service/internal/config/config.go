package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	libconfig "cuehall/backend/libs/config"
	"cuehall/backend/services/venue-service/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines venue service configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Venue   VenueConfig   `yaml:"venue"`
	Bonus   BonusConfig   `yaml:"bonus"`
	Relay   RelayConfig   `yaml:"relay"`
	Auth    AuthConfig    `yaml:"auth"`
	License LicenseConfig `yaml:"license"`
}

type HTTPConfig struct {
	Port string `yaml:"port" env:"VENUE_HTTP_PORT"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"VENUE_STORAGE_DRIVER"`
	DSN    string `yaml:"dsn" env:"VENUE_POSTGRES_DSN"`
}

// RedisConfig configures the day-stats cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"VENUE_REDIS_ADDR"`
	Password string        `yaml:"password" env:"VENUE_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"VENUE_REDIS_DB"`
	StatsTTL time.Duration `yaml:"statsTTL" env:"VENUE_STATS_TTL"`
}

type VenueConfig struct {
	Timezone string        `yaml:"timezone" env:"VENUE_TIMEZONE"`
	Tariff   models.Tariff `yaml:"tariff" env:"-"`
	BaseRate string        `yaml:"-" env:"VENUE_BASE_RATE"`
}

type BonusConfig struct {
	EarnMode    string          `yaml:"earnMode" env:"VENUE_BONUS_EARN_MODE"`
	PerHour     decimal.Decimal `yaml:"perHour" env:"VENUE_BONUS_PER_HOUR"`
	EarnPercent decimal.Decimal `yaml:"earnPercent" env:"VENUE_BONUS_EARN_PERCENT"`
}

type RelayConfig struct {
	BaseURL       string        `yaml:"baseURL" env:"VENUE_RELAY_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"VENUE_RELAY_TIMEOUT"`
	Mock          bool          `yaml:"mock" env:"VENUE_RELAY_MOCK"`
	RatePerSecond float64       `yaml:"ratePerSecond" env:"VENUE_RELAY_RATE"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwtSecret" env:"VENUE_JWT_SECRET"`
	TokenTTL          time.Duration `yaml:"tokenTTL" env:"VENUE_JWT_TTL"`
	BootstrapUser     string        `yaml:"bootstrapUser" env:"VENUE_BOOTSTRAP_USER"`
	BootstrapPassword string        `yaml:"bootstrapPassword" env:"VENUE_BOOTSTRAP_PASSWORD"`
	BootstrapName     string        `yaml:"bootstrapName" env:"VENUE_BOOTSTRAP_NAME"`
}

type LicenseConfig struct {
	Token        string `yaml:"token" env:"VENUE_LICENSE_TOKEN"`
	PublicKeyPEM string `yaml:"publicKey" env:"VENUE_LICENSE_PUBLIC_KEY"`
	MachineID    string `yaml:"machineID" env:"VENUE_MACHINE_ID"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:    HTTPConfig{Port: "8080"},
		Storage: StorageConfig{Driver: DriverPostgres},
		Redis:   RedisConfig{StatsTTL: 45 * 24 * time.Hour},
		Venue: VenueConfig{
			Timezone: "Europe/Kyiv",
			Tariff:   models.Tariff{BaseRate: decimal.NewFromInt(300)},
		},
		Bonus: BonusConfig{EarnMode: "off"},
		Relay: RelayConfig{Timeout: 1500 * time.Millisecond, RatePerSecond: 10},
		Auth:  AuthConfig{TokenTTL: 12 * time.Hour},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the config and checks required fields.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: database dsn required")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if raw := strings.TrimSpace(c.Venue.BaseRate); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("config: base rate: %w", err)
		}
		c.Venue.Tariff.BaseRate = rate
	}

	c.Bonus.EarnMode = strings.ToLower(strings.TrimSpace(c.Bonus.EarnMode))
	switch c.Bonus.EarnMode {
	case "", "off":
		c.Bonus.EarnMode = "off"
	case "per_hour":
		if c.Bonus.PerHour.IsNegative() {
			return errors.New("config: bonus per hour must not be negative")
		}
	case "percent":
		if c.Bonus.EarnPercent.IsNegative() || c.Bonus.EarnPercent.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("config: bonus earn percent must be within 0..100")
		}
	default:
		return fmt.Errorf("config: unknown bonus earn mode %q", c.Bonus.EarnMode)
	}
	return nil
}

// Location resolves the venue timezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Venue.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: venue timezone: %w", err)
	}
	return loc, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
