package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Entitlement EntitlementConfig `yaml:"entitlement" envconfig:"ENTITLEMENT"`
	Store       StoreConfig       `yaml:"store" envconfig:"STORE"`
	Resource    ResourceConfig    `yaml:"resource" envconfig:"RESOURCE"`
	Security    SecurityConfig    `yaml:"security" envconfig:"SECURITY"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket   WebSocketConfig   `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// EntitlementConfig contains the trial and license windows and the key policy.
type EntitlementConfig struct {
	TrialWindow   time.Duration `yaml:"trial_window" envconfig:"TRIAL_WINDOW"`
	LicenseWindow time.Duration `yaml:"license_window" envconfig:"LICENSE_WINDOW"`
	TestKey       string        `yaml:"test_key" envconfig:"TEST_KEY"`
	KeyPrefixes   []string      `yaml:"key_prefixes" envconfig:"KEY_PREFIXES"`
}

// StoreConfig selects and configures the entitlement store.
type StoreConfig struct {
	Driver         string      `yaml:"driver" envconfig:"DRIVER"`
	RedisAddr      string      `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword  string      `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB        int         `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisKeyPrefix string      `yaml:"redis_key_prefix" envconfig:"REDIS_KEY_PREFIX"`
	PostgresDSN    string      `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	Retry          RetryConfig `yaml:"retry" envconfig:"RETRY"`
}

// RetryConfig controls retries of store writes that fail as unavailable.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" envconfig:"MULTIPLIER"`
}

// Delay returns the backoff before the given retry (1-based).
func (r RetryConfig) Delay(retry int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 1; i < retry; i++ {
		d *= r.Multiplier
		if time.Duration(d) >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if time.Duration(d) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// ResourceConfig describes the gated upstream script.
type ResourceConfig struct {
	UpstreamURL  string        `yaml:"upstream_url" envconfig:"UPSTREAM_URL"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`
	MaxBytes     int64         `yaml:"max_bytes" envconfig:"MAX_BYTES"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins    []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS        bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	FingerprintSecret string          `yaml:"fingerprint_secret" envconfig:"FINGERPRINT_SECRET"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable keep their current value, so the
	// environment only overrides what it names. Bare names (PORT,
	// TRIAL_WINDOW, ...) are honoured when the prefixed one is absent.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Telemetry.TraceExporter = strings.ToLower(strings.TrimSpace(c.Telemetry.TraceExporter))
	c.Telemetry.MetricExporter = strings.ToLower(strings.TrimSpace(c.Telemetry.MetricExporter))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Entitlement.TrialWindow <= 0 {
		return fmt.Errorf("trial window must be positive")
	}

	if c.Entitlement.LicenseWindow <= 0 {
		return fmt.Errorf("license window must be positive")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store driver %q requires a redis address", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store driver %q requires a postgres dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	r := c.Store.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if r.InitialDelay < 0 || r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("retry delays must satisfy 0 <= initial <= max")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}

	if c.Resource.MaxBytes <= 0 {
		return fmt.Errorf("resource max bytes must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	switch c.Telemetry.TraceExporter {
	case ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("unknown trace exporter: %q", c.Telemetry.TraceExporter)
	}

	switch c.Telemetry.MetricExporter {
	case ExporterNone, ExporterPrometheus:
	default:
		return fmt.Errorf("unknown metric exporter: %q", c.Telemetry.MetricExporter)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Entitlement: EntitlementConfig{
			TrialWindow:   DefaultWindow,
			LicenseWindow: DefaultWindow,
			TestKey:       DefaultTestKey,
			KeyPrefixes:   []string{DefaultKeyPrefix},
		},
		Store: StoreConfig{
			Driver:         DriverMemory,
			RedisKeyPrefix: "scriptgate:entitlement:",
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 25 * time.Millisecond,
				MaxDelay:     250 * time.Millisecond,
				Multiplier:   2,
			},
		},
		Resource: ResourceConfig{
			FetchTimeout: 10 * time.Second,
			MaxBytes:     5 << 20, // 5MiB
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   100,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			Environment:    "development",
			TraceExporter:  ExporterNone,
			MetricExporter: ExporterPrometheus,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}
