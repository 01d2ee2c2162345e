// Package config loads service configuration from defaults, an optional
// YAML file and SACCO_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SACCO_DATABASE_URL for database.url.
const EnvPrefix = "SACCO"

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Screening ScreeningConfig `mapstructure:"screening"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Daraja    DarajaConfig    `mapstructure:"daraja"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
	// TrustProxyHeaders honours X-Forwarded-* when deriving the payment
	// callback URL. Set payments.callback_url instead where possible.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the ledger store. An empty URL runs on the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret             string        `mapstructure:"jwt_secret"`
	TokenTTL              time.Duration `mapstructure:"token_ttl"`
	AdminRegistrationCode string        `mapstructure:"admin_registration_code"`
}

// DocumentsConfig chooses where loan documents go: the GCS bucket when set,
// otherwise the local directory.
type DocumentsConfig struct {
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type AnalyticsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// WarehouseConfig enables the BigQuery export when Project is set.
type WarehouseConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type ScreeningConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Project string `mapstructure:"project"`
	Region  string `mapstructure:"region"`
	Model   string `mapstructure:"model"`
}

type PaymentsConfig struct {
	CallbackURL         string        `mapstructure:"callback_url"`
	FallbackCallbackURL string        `mapstructure:"fallback_callback_url"`
	AccountReference    string        `mapstructure:"account_reference"`
	PendingTTL          time.Duration `mapstructure:"pending_ttl"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

type DarajaConfig struct {
	Environment    string        `mapstructure:"environment"`
	BaseURL        string        `mapstructure:"base_url"`
	ConsumerKey    string        `mapstructure:"consumer_key"`
	ConsumerSecret string        `mapstructure:"consumer_secret"`
	ShortCode      string        `mapstructure:"short_code"`
	Passkey        string        `mapstructure:"passkey"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type JobsConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"http.port":                      "8080",
	"http.trust_proxy_headers":       false,
	"log.level":                      "info",
	"log.format":                     "console",
	"database.url":                   "",
	"auth.jwt_secret":                "",
	"auth.token_ttl":                 "12h",
	"auth.admin_registration_code":   "",
	"documents.bucket":               "",
	"documents.dir":                  "data/loan_documents",
	"redis.addr":                     "",
	"analytics.cache_ttl":            "30s",
	"warehouse.project":              "",
	"warehouse.dataset":              "sacco_ledger",
	"screening.enabled":              false,
	"screening.project":              "",
	"screening.region":               "europe-west1",
	"screening.model":                "gemini-2.5-flash",
	"payments.callback_url":          "",
	"payments.fallback_callback_url": "https://api.darajambili.com/express-payment",
	"payments.account_reference":     "FinanceApp Payment",
	"payments.pending_ttl":           "24h",
	"payments.sweep_interval":        "15m",
	"daraja.environment":             "sandbox",
	"daraja.base_url":                "",
	"daraja.consumer_key":            "",
	"daraja.consumer_secret":         "",
	"daraja.short_code":              "",
	"daraja.passkey":                 "",
	"daraja.timeout":                 "30s",
	"jobs.buffer_size":               100,
	"jobs.workers":                   4,
	"jobs.max_retries":               3,
	"jobs.backoff":                   "1s",
	"jobs.timeout":                   "2m",
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// DarajaEnabled reports whether gateway credentials are present.
func (c *Config) DarajaEnabled() bool {
	return c.Daraja.ConsumerKey != "" && c.Daraja.ConsumerSecret != ""
}

// Validate checks the settings the API server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Screening.Enabled && c.Screening.Project == "" {
		errs = append(errs, errors.New("screening.project is required when screening is enabled"))
	}
	switch c.Daraja.Environment {
	case "sandbox", "production":
	default:
		errs = append(errs, fmt.Errorf("daraja.environment must be sandbox or production, got %q", c.Daraja.Environment))
	}
	return errors.Join(errs...)
}
