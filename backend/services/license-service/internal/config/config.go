package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	libconfig "cuehall/backend/libs/config"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines license service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	License  LicenseConfig  `yaml:"license"`
}

type HTTPConfig struct {
	Port            string   `yaml:"port" env:"LICENSE_HTTP_PORT"`
	AllowedOrigins  []string `yaml:"allowedOrigins" env:"LICENSE_CORS_ORIGINS"`
	OrdersPerMinute int      `yaml:"ordersPerMinute" env:"LICENSE_ORDERS_PER_MINUTE"`
	OrdersBurst     int      `yaml:"ordersBurst" env:"LICENSE_ORDERS_BURST"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"LICENSE_STORAGE_DRIVER"`
	DSN    string `yaml:"dsn" env:"LICENSE_POSTGRES_DSN"`
}

type ProviderConfig struct {
	BaseURL         string        `yaml:"baseURL" env:"MONO_BASE_URL"`
	Token           string        `yaml:"token" env:"MONO_TOKEN"`
	Currency        int           `yaml:"currency" env:"MONO_CURRENCY"`
	Timeout         time.Duration `yaml:"timeout" env:"MONO_TIMEOUT"`
	RedirectURL     string        `yaml:"redirectURL" env:"MONO_REDIRECT_URL"`
	WebhookURL      string        `yaml:"webhookURL" env:"MONO_WEBHOOK_URL"`
	InvoiceValidity time.Duration `yaml:"invoiceValidity" env:"MONO_INVOICE_VALIDITY"`
}

// LicenseConfig holds the signing key and price list. Plans are "tier:days:amount".
type LicenseConfig struct {
	PrivateKeyPEM  string   `yaml:"privateKey" env:"LICENSE_PRIVATE_KEY"`
	PrivateKeyFile string   `yaml:"privateKeyFile" env:"LICENSE_PRIVATE_KEY_FILE"`
	Plans          []string `yaml:"plans" env:"LICENSE_PLANS"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:     HTTPConfig{Port: "8090", OrdersPerMinute: 5, OrdersBurst: 2},
		Storage:  StorageConfig{Driver: DriverPostgres},
		Provider: ProviderConfig{Currency: 980, Timeout: 10 * time.Second, InvoiceValidity: 24 * time.Hour},
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
	if strings.TrimSpace(c.Provider.Token) == "" {
		return errors.New("config: provider token required")
	}
	if strings.TrimSpace(c.License.PrivateKeyPEM) == "" && strings.TrimSpace(c.License.PrivateKeyFile) == "" {
		return errors.New("config: license private key required")
	}
	if len(c.License.Plans) == 0 {
		return errors.New("config: at least one license plan required")
	}
	return nil
}

// PrivateKey returns the signing key PEM, reading the key file when set.
func (c *Config) PrivateKey() ([]byte, error) {
	if pem := strings.TrimSpace(c.License.PrivateKeyPEM); pem != "" {
		// env values often carry literal \n
		return []byte(strings.ReplaceAll(pem, `\n`, "\n")), nil
	}
	data, err := os.ReadFile(c.License.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: read license key: %w", err)
	}
	return data, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
