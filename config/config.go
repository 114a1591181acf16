package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"weathercast/internal/errorutil"
	"weathercast/internal/logger"
)

// Environment names understood by [app] environment and WEATHERCAST_ENV
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Cache backends understood by [cache] backend
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// APIs contains API key configurations
type APIs struct {
	OpenWeather string `toml:"openweather"`
}

// App contains process-wide settings
type App struct {
	Environment string `toml:"environment"` // development, production or test
}

// Weather contains OpenWeather query configuration
type Weather struct {
	BaseURL        string `toml:"base_url"`
	Lang           string `toml:"lang"`
	ForecastCount  int    `toml:"forecast_count"`  // cnt parameter for /forecast (3-hour slots)
	TimeoutSeconds int    `toml:"timeout_seconds"` // Per-call transport timeout
}

// Cache contains forecast caching configuration
type Cache struct {
	Backend              string `toml:"backend"`                // memory, file or redis
	TTLMinutes           int    `toml:"ttl_minutes"`            // Lifetime of a cached forecast
	Directory            string `toml:"directory"`              // File backend storage directory
	PurgeIntervalMinutes int    `toml:"purge_interval_minutes"` // How often expired entries are swept
	KeyPrefix            string `toml:"key_prefix"`             // Namespace for keys in shared stores
}

// Redis contains connection settings for the redis cache backend
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Breaker contains circuit breaker settings for upstream calls
type Breaker struct {
	MaxConsecutiveFailures int `toml:"max_consecutive_failures"`
	OpenSeconds            int `toml:"open_seconds"`
}

// Server contains HTTP listener configuration
type Server struct {
	Addr                string `toml:"addr"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// Logging contains logging configuration with rotation support
type Logging struct {
	Enabled         bool   `toml:"enabled"`          // Enable file logging
	Directory       string `toml:"directory"`        // Log directory (relative or absolute)
	FilenamePattern string `toml:"filename_pattern"` // Log filename with date patterns
	Level           string `toml:"level"`            // Log level: debug, info, warn, error
	MaxFiles        int    `toml:"max_files"`        // Number of log files to keep
	MaxSizeMB       int    `toml:"max_size_mb"`      // Rotate when file exceeds this size
	ConsoleOutput   bool   `toml:"console_output"`   // Also output to console
}

// Config represents the complete application configuration
type Config struct {
	APIs    APIs    `toml:"apis"`
	App     App     `toml:"app"`
	Weather Weather `toml:"weather"`
	Cache   Cache   `toml:"cache"`
	Redis   Redis   `toml:"redis"`
	Breaker Breaker `toml:"breaker"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
}

// Timeout returns the per-call upstream timeout
func (w Weather) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// TTL returns the cache entry lifetime
func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// PurgeInterval returns how often expired cache entries are swept
func (c Cache) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalMinutes) * time.Minute
}

// OpenDuration returns how long the breaker stays open before probing again
func (b Breaker) OpenDuration() time.Duration {
	return time.Duration(b.OpenSeconds) * time.Second
}

// ReadTimeout returns the HTTP server read timeout
func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP server write timeout
func (s Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// IsProduction reports whether development diagnostics must be suppressed
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, EnvProduction)
}

// LoadConfig reads and parses a TOML configuration file, then applies
// environment overrides and defaults
func LoadConfig(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{
				Path: cleanPath,
			}
		}
		return nil, errorutil.LogAndWrap(logger.Get().Logger, "read configuration file", err,
			errorutil.ConfigContext(cleanPath)...)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errorutil.LogAndWrap(logger.Get().Logger, "parse TOML configuration", err,
			errorutil.ConfigContext(cleanPath)...)
	}

	config.ApplyEnvOverrides()
	config.ApplyDefaults()

	return &config, nil
}

// Default returns a configuration built only from environment overrides and defaults
func Default() *Config {
	var config Config
	config.ApplyEnvOverrides()
	config.ApplyDefaults()
	return &config
}

// LoadEnvFiles loads KEY=value pairs from .env style files into the process
// environment. Missing files are ignored and existing variables are never replaced.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// ApplyEnvOverrides replaces file values with any set environment variables
func (c *Config) ApplyEnvOverrides() {
	c.APIs.OpenWeather = getEnv("OPENWEATHER_API_KEY", c.APIs.OpenWeather)
	c.App.Environment = getEnv("WEATHERCAST_ENV", c.App.Environment)
	c.Weather.BaseURL = getEnv("OPENWEATHER_BASE_URL", c.Weather.BaseURL)
	c.Cache.Backend = getEnv("WEATHERCAST_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTLMinutes = getEnvAsInt("WEATHERCAST_CACHE_TTL_MINUTES", c.Cache.TTLMinutes)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Server.Addr = getEnv("WEATHERCAST_ADDR", c.Server.Addr)
	c.Logging.Level = getEnv("WEATHERCAST_LOG_LEVEL", c.Logging.Level)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return value
	}
	return defaultValue
}

// ApplyDefaults sets default values for optional configuration fields
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.App.Environment) == "" {
		c.App.Environment = EnvDevelopment
	}

	if strings.TrimSpace(c.Weather.BaseURL) == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if strings.TrimSpace(c.Weather.Lang) == "" {
		c.Weather.Lang = "en"
	}
	if c.Weather.ForecastCount <= 0 {
		c.Weather.ForecastCount = 16 // Two days of 3-hour slots
	}
	if c.Weather.TimeoutSeconds <= 0 {
		c.Weather.TimeoutSeconds = 10
	}

	if strings.TrimSpace(c.Cache.Backend) == "" {
		c.Cache.Backend = BackendMemory
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = 30
	}
	if strings.TrimSpace(c.Cache.Directory) == "" {
		c.Cache.Directory = filepath.Join(os.TempDir(), "weathercast-cache")
	}
	if c.Cache.PurgeIntervalMinutes <= 0 {
		c.Cache.PurgeIntervalMinutes = 10
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "weathercast:"
	}

	if strings.TrimSpace(c.Redis.Addr) == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Breaker.MaxConsecutiveFailures <= 0 {
		c.Breaker.MaxConsecutiveFailures = 5
	}
	if c.Breaker.OpenSeconds <= 0 {
		c.Breaker.OpenSeconds = 30
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = "logs"
	}
	if strings.TrimSpace(c.Logging.FilenamePattern) == "" {
		c.Logging.FilenamePattern = "weathercast-YYYYMMDD.log"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxFiles <= 0 {
		c.Logging.MaxFiles = 7
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
}

// ConfigNotFoundError represents a missing configuration file
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("configuration file not found: %s\n\nTo create a sample configuration file, run:\n  %s -generate-config", e.Path, filepath.Base(os.Args[0]))
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors
type MultiValidationError struct {
	Errors []ValidationError
}

func (e *MultiValidationError) Error() string {
	var messages []string
	for _, err := range e.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  %s", strings.Join(messages, "\n  "))
}

// Validate checks the configuration for correctness. An empty OpenWeather key is
// accepted here; requests fail individually until one is configured.
func (c *Config) Validate() error {
	var checks errorutil.ValidationErrors

	checks.Append(errorutil.ValidateAPIKey("apis.openweather", c.APIs.OpenWeather, 16, true))
	checks.Append(errorutil.ValidateEnum("app.environment", c.App.Environment,
		[]string{EnvDevelopment, EnvProduction, EnvTest}))

	checks.Append(errorutil.ValidateURL("weather.base_url", c.Weather.BaseURL))
	checks.Append(errorutil.ValidateRequired("weather.lang", c.Weather.Lang))
	checks.Append(errorutil.ValidateIntRange("weather.forecast_count", c.Weather.ForecastCount, 1, 40))
	checks.Append(errorutil.ValidateIntRange("weather.timeout_seconds", c.Weather.TimeoutSeconds, 1, 120))

	checks.Append(errorutil.ValidateEnum("cache.backend", c.Cache.Backend,
		[]string{BackendMemory, BackendFile, BackendRedis}))
	checks.Append(errorutil.ValidateIntRange("cache.ttl_minutes", c.Cache.TTLMinutes, 1, 24*60))
	checks.Append(errorutil.ValidateIntRange("cache.purge_interval_minutes", c.Cache.PurgeIntervalMinutes, 1, 24*60))
	if strings.EqualFold(c.Cache.Backend, BackendRedis) {
		checks.Append(errorutil.ValidateRequired("redis.addr", c.Redis.Addr))
		checks.Append(errorutil.ValidateIntRange("redis.db", c.Redis.DB, 0, 15))
	}

	checks.Append(errorutil.ValidateIntRange("breaker.max_consecutive_failures", c.Breaker.MaxConsecutiveFailures, 1, 100))
	checks.Append(errorutil.ValidateIntRange("breaker.open_seconds", c.Breaker.OpenSeconds, 1, 3600))

	checks.Append(errorutil.ValidateRequired("server.addr", c.Server.Addr))

	checks.Append(errorutil.ValidateEnum("logging.level", c.Logging.Level, []string{"debug", "info", "warn", "warning", "error"}))
	if c.Logging.MaxFiles < 0 {
		checks.Append(&errorutil.ValidationError{Field: "logging.max_files", Message: "max_files cannot be negative"})
	}
	if c.Logging.MaxSizeMB < 0 {
		checks.Append(&errorutil.ValidationError{Field: "logging.max_size_mb", Message: "max_size_mb cannot be negative"})
	}

	if !checks.HasErrors() {
		return nil
	}
	errorutil.LogValidationErrors(logger.Get().Logger, &checks)

	errors := make([]ValidationError, len(checks.Errors))
	for i, check := range checks.Errors {
		errors[i] = ValidationError{Field: check.Field, Message: check.Message}
	}
	return &MultiValidationError{Errors: errors}
}

// GenerateSampleConfig creates a sample configuration file at the specified path
func GenerateSampleConfig(configPath string) error {
	sampleConfig := `# Weathercast Configuration File
# Forecast fetch-and-cache service for OpenWeather

[apis]
# Get your OpenWeather API key at: https://openweathermap.org/api
# May also be supplied through OPENWEATHER_API_KEY (or a .env file)
openweather = "your-openweather-api-key-here"

[app]
# development, production or test. Outside production the service logs the
# masked API key and extra diagnostics for failed lookups.
environment = "development"

[weather]
base_url = "https://api.openweathermap.org/data/2.5"
lang = "en"                                # Description language; temperatures are always Celsius
forecast_count = 16                        # 3-hour slots requested from /forecast
timeout_seconds = 10                       # Per-call timeout, no retries

[cache]
backend = "memory"                         # memory, file or redis
ttl_minutes = 30
directory = ""                             # File backend only (default: system temp dir)
purge_interval_minutes = 10                # Sweep of expired memory/file entries
key_prefix = "weathercast:"                # Namespace inside shared stores

[redis]
addr = "localhost:6379"
password = ""
db = 0

[breaker]
# Stop calling OpenWeather after repeated transport or 5xx failures
max_consecutive_failures = 5
open_seconds = 30

[server]
addr = ":3000"
read_timeout_seconds = 10
write_timeout_seconds = 30

[logging]
enabled = true                             # Enable file logging
directory = "logs"                         # Log directory (relative to working dir or absolute path)
filename_pattern = "weathercast-YYYYMMDD.log"
level = "info"                             # debug, info, warn, error
max_files = 7                              # Keep 7 files (0 = unlimited)
max_size_mb = 10                           # Rotate when file exceeds 10MB (0 = unlimited)
console_output = true
`

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	return nil
}
