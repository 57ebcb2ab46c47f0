package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingDatabaseURL is returned when DATABASE_URL is not configured
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// DefaultAllowedModels is the model allow-list used when none is configured
var DefaultAllowedModels = []string{
	"llama-3.1-8b-instant",
	"llama-3.3-70b-versatile",
	"openai/gpt-oss-20b",
}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Provider      ProviderConfig
	Models        ModelsConfig
	Alerts        AlertsConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// DefaultRequestTimeout bounds a routed request when none is configured. It
// covers the default provider budget plus the record insert.
const DefaultRequestTimeout = 200 * time.Second

// ServerConfig holds HTTP server configuration. RequestTimeout is enforced by
// the router and must stay below WriteTimeout so a late response is still
// written.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the record store connection settings. URL selects the
// dialect: postgres://, postgresql://, sqlite:// or file:.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	InsertTimeout   time.Duration
}

// ProviderConfig holds the OpenAI-compatible provider settings
type ProviderConfig struct {
	Name       string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// ModelsConfig holds the model allow-list
type ModelsConfig struct {
	Allowed []string
	Default string
}

// AlertsConfig holds the alert thresholds
type AlertsConfig struct {
	LatencyMs    float64
	ErrorRatePct float64
	TokensIn     int
	TokensOut    int
}

// CORSConfig holds cross-origin settings for the dashboard
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or console
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int
	MetricsEnabled    bool
}

// New creates a new Config instance from .env, the environment and the
// optional CONFIG_FILE overlay
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 210*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", DefaultRequestTimeout),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(getEnv("DATABASE_URL", "")),
		Provider: ProviderConfig{
			Name:       getEnv("PROVIDER_NAME", "groq"),
			APIKey:     getEnv("GROQ_API_KEY", ""),
			BaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Timeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 2),
			RetryDelay: getEnvAsDuration("PROVIDER_RETRY_DELAY", 500*time.Millisecond),
		},
		Models: ModelsConfig{
			Allowed: getEnvAsSlice("ALLOWED_MODELS", DefaultAllowedModels),
			Default: getEnv("DEFAULT_MODEL", "llama-3.1-8b-instant"),
		},
		Alerts: AlertsConfig{
			LatencyMs:    getEnvAsFloat("ALERT_LATENCY_MS", 3000),
			ErrorRatePct: getEnvAsFloat("ALERT_ERROR_RATE_PCT", 30),
			TokensIn:     getEnvAsInt("ALERT_TOKENS_IN", 1000),
			TokensOut:    getEnvAsInt("ALERT_TOKENS_OUT", 2000),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8501", "http://localhost:3000"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			LogFile:           getEnv("LOG_FILE", ""),
			LogFileMaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			LogFileMaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
			LogFileMaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if configFile := getEnv("CONFIG_FILE", ""); configFile != "" {
		if err := cfg.applyFile(configFile); err != nil {
			return nil, err
		}
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyFile overlays values from a YAML file. A key whose environment
// variable is set keeps the environment value.
func (c *Config) applyFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}

	overlay := func(key, env string, apply func()) {
		if v.IsSet(key) && os.Getenv(env) == "" {
			apply()
		}
	}

	overlay("models.allowed", "ALLOWED_MODELS", func() { c.Models.Allowed = v.GetStringSlice("models.allowed") })
	overlay("models.default", "DEFAULT_MODEL", func() { c.Models.Default = v.GetString("models.default") })
	overlay("alerts.latency_ms", "ALERT_LATENCY_MS", func() { c.Alerts.LatencyMs = v.GetFloat64("alerts.latency_ms") })
	overlay("alerts.error_rate_pct", "ALERT_ERROR_RATE_PCT", func() { c.Alerts.ErrorRatePct = v.GetFloat64("alerts.error_rate_pct") })
	overlay("alerts.tokens_in", "ALERT_TOKENS_IN", func() { c.Alerts.TokensIn = v.GetInt("alerts.tokens_in") })
	overlay("alerts.tokens_out", "ALERT_TOKENS_OUT", func() { c.Alerts.TokensOut = v.GetInt("alerts.tokens_out") })
	overlay("cors.allowed_origins", "CORS_ALLOWED_ORIGINS", func() { c.CORS.AllowedOrigins = v.GetStringSlice("cors.allowed_origins") })

	return nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	// Provider key is required in production
	if c.IsProduction() && c.Provider.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required in production")
	}

	if len(c.Models.Allowed) == 0 {
		return fmt.Errorf("at least one allowed model is required")
	}
	if !c.Models.IsAllowed(c.Models.Default) {
		return fmt.Errorf("default model %q is not in the allowed models", c.Models.Default)
	}

	if c.Alerts.LatencyMs <= 0 || c.Alerts.ErrorRatePct <= 0 || c.Alerts.TokensIn <= 0 || c.Alerts.TokensOut <= 0 {
		return fmt.Errorf("alert thresholds must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	if budget := c.CallBudget(); c.Server.RequestTimeout < budget {
		return fmt.Errorf("request timeout %s is shorter than the provider call budget %s", c.Server.RequestTimeout, budget)
	}
	if c.Server.WriteTimeout <= c.Server.RequestTimeout {
		return fmt.Errorf("write timeout %s must exceed request timeout %s", c.Server.WriteTimeout, c.Server.RequestTimeout)
	}

	return nil
}

// CallBudget is the longest one recorded call can take: every provider
// attempt timing out, the linear backoff between them, then the insert.
// Compare runs its two calls concurrently, so the budget is the same.
func (c *Config) CallBudget() time.Duration {
	attempts := time.Duration(c.Provider.MaxRetries + 1)
	backoff := c.Provider.RetryDelay * time.Duration(c.Provider.MaxRetries*(c.Provider.MaxRetries+1)/2)
	return c.Provider.Timeout*attempts + backoff + c.Database.InsertTimeout
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsAllowed reports whether model is in the allow-list
func (m ModelsConfig) IsAllowed(model string) bool {
	return slices.Contains(m.Allowed, model)
}

// NewDatabaseConfig returns pool settings for rawURL, reading overrides from
// the environment
func NewDatabaseConfig(rawURL string) DatabaseConfig {
	return loadDatabaseConfig(rawURL)
}

// Validate checks that the URL is present and uses a supported scheme
func (c *DatabaseConfig) Validate() error {
	if c.URL == "" {
		return ErrMissingDatabaseURL
	}
	for _, prefix := range []string{"postgres://", "postgresql://", "sqlite://", "file:"} {
		if strings.HasPrefix(c.URL, prefix) {
			return nil
		}
	}
	return fmt.Errorf("unsupported DATABASE_URL scheme: %s", c.LogString())
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if strings.HasPrefix(c.URL, "sqlite://") || strings.HasPrefix(c.URL, "file:") {
		return c.URL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<unparseable DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("scheme=%s host=%s port=%s database=%s", u.Scheme, u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

func loadDatabaseConfig(rawURL string) DatabaseConfig {
	return DatabaseConfig{
		URL:             rawURL,
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InsertTimeout:   getEnvAsDuration("DB_INSERT_TIMEOUT", 10*time.Second),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated variable, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return slices.Clone(defaultValue)
	}
	var values []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return slices.Clone(defaultValue)
	}
	return values
}
