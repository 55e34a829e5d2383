// Package config handles loading and validation of application configuration
// from environment variables and an optional .env file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
	// TrustedProxies is a list of CIDR ranges or IPs of trusted reverse proxies.
	// If empty, X-Forwarded-For headers are ignored entirely.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES" yaml:"trusted_proxies"`
}

// BackendConfig points at the receipt processing API.
type BackendConfig struct {
	BaseURL        string `mapstructure:"BASE_URL" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
}

// Timeout returns the per-request HTTP timeout.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig holds Redis connection details. An empty Address disables the
// shared ticker cache and the in-process cache is used instead.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// WorkflowConfig tunes the review workflow and its ticker search.
type WorkflowConfig struct {
	// SearchDebounceMillis is the quiet period after the last keystroke before a search is issued
	SearchDebounceMillis int `mapstructure:"SEARCH_DEBOUNCE_MS" yaml:"search_debounce_ms"`
	// MinSearchLength is the shortest input that triggers a suggestion search
	MinSearchLength int `mapstructure:"MIN_SEARCH_LENGTH" yaml:"min_search_length"`
	// AutoSearchLength is the shortest item name that triggers auto-resolution
	AutoSearchLength int `mapstructure:"AUTO_SEARCH_LENGTH" yaml:"auto_search_length"`
	// AutoAcceptThreshold is the confidence a top suggestion must exceed to be applied without confirmation
	AutoAcceptThreshold float64 `mapstructure:"AUTO_ACCEPT_THRESHOLD" yaml:"auto_accept_threshold"`
	MaxUploadBytes      int64   `mapstructure:"MAX_UPLOAD_BYTES" yaml:"max_upload_bytes"`
	// SearchRatePerSecond caps outbound ticker searches per workflow
	SearchRatePerSecond float64 `mapstructure:"SEARCH_RATE_PER_SECOND" yaml:"search_rate_per_second"`
	SearchBurst         int     `mapstructure:"SEARCH_BURST" yaml:"search_burst"`
	// SearchCacheTTLSeconds is how long ticker search results stay cached
	SearchCacheTTLSeconds int `mapstructure:"SEARCH_CACHE_TTL_SECONDS" yaml:"search_cache_ttl_seconds"`
}

// SearchDebounce returns the debounce interval as a duration.
func (c WorkflowConfig) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMillis) * time.Millisecond
}

// SearchCacheTTL returns the cache TTL as a duration.
func (c WorkflowConfig) SearchCacheTTL() time.Duration {
	return time.Duration(c.SearchCacheTTLSeconds) * time.Second
}

// SessionConfig bounds the review sessions held by the service.
type SessionConfig struct {
	TTLMinutes             int `mapstructure:"TTL_MINUTES" yaml:"ttl_minutes"`
	MaxSessions            int `mapstructure:"MAX_SESSIONS" yaml:"max_sessions"`
	JanitorIntervalSeconds int `mapstructure:"JANITOR_INTERVAL_SECONDS" yaml:"janitor_interval_seconds"`
	// CreatePerMinute caps session creation per client IP when Redis is configured
	CreatePerMinute int `mapstructure:"CREATE_PER_MINUTE" yaml:"create_per_minute"`
}

// TTL returns the idle session lifetime.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// JanitorInterval returns how often expired sessions are swept.
func (c SessionConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSeconds) * time.Second
}

// WorkerPoolConfig holds configuration for the learning submission worker pool.
type WorkerPoolConfig struct {
	// MaxWorkers is the number of concurrent workers (default: 4)
	MaxWorkers int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	// QueueSize is the maximum number of pending jobs (default: 100)
	QueueSize int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	// ShutdownTimeoutSeconds is the max time to wait for workers during shutdown (default: 30)
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER" yaml:"server"`
	Backend    BackendConfig    `mapstructure:"BACKEND" yaml:"backend"`
	Redis      RedisConfig      `mapstructure:"REDIS" yaml:"redis"`
	Workflow   WorkflowConfig   `mapstructure:"WORKFLOW" yaml:"workflow"`
	Sessions   SessionConfig    `mapstructure:"SESSIONS" yaml:"sessions"`
	WorkerPool WorkerPoolConfig `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.TRUSTED_PROXIES", []string{})
	v.SetDefault("BACKEND.BASE_URL", "http://localhost:5000/api")
	v.SetDefault("BACKEND.TIMEOUT_SECONDS", 30)
	v.SetDefault("REDIS.ADDRESS", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 3)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("WORKFLOW.SEARCH_DEBOUNCE_MS", 300)
	v.SetDefault("WORKFLOW.MIN_SEARCH_LENGTH", 2)
	v.SetDefault("WORKFLOW.AUTO_SEARCH_LENGTH", 3)
	v.SetDefault("WORKFLOW.AUTO_ACCEPT_THRESHOLD", 0.8)
	v.SetDefault("WORKFLOW.MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("WORKFLOW.SEARCH_RATE_PER_SECOND", 5.0)
	v.SetDefault("WORKFLOW.SEARCH_BURST", 3)
	v.SetDefault("WORKFLOW.SEARCH_CACHE_TTL_SECONDS", 600)
	v.SetDefault("SESSIONS.TTL_MINUTES", 30)
	v.SetDefault("SESSIONS.MAX_SESSIONS", 1000)
	v.SetDefault("SESSIONS.JANITOR_INTERVAL_SECONDS", 60)
	v.SetDefault("SESSIONS.CREATE_PER_MINUTE", 30)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 4)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 100)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")
}

// LoadConfig loads configuration from environment variables using Viper,
// sets default values, binds environment variables to config struct fields,
// unmarshals the configuration, and validates it. A .env file in the working
// directory is loaded first when present; variables already set win.
func LoadConfig() (*Config, error) {
	log := logger.GetLogger()
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		// Server config
		{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.VERSION", "SERVER_VERSION"},
		{"SERVER.TRUSTED_PROXIES", "TRUSTED_PROXIES"},
		// Backend API
		{"BACKEND.BASE_URL", "RECEIPT_API_URL"},
		{"BACKEND.TIMEOUT_SECONDS", "RECEIPT_API_TIMEOUT_SECONDS"},
		// Redis config
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		// Workflow config
		{"WORKFLOW.SEARCH_DEBOUNCE_MS", "WORKFLOW_SEARCH_DEBOUNCE_MS"},
		{"WORKFLOW.MIN_SEARCH_LENGTH", "WORKFLOW_MIN_SEARCH_LENGTH"},
		{"WORKFLOW.AUTO_SEARCH_LENGTH", "WORKFLOW_AUTO_SEARCH_LENGTH"},
		{"WORKFLOW.AUTO_ACCEPT_THRESHOLD", "WORKFLOW_AUTO_ACCEPT_THRESHOLD"},
		{"WORKFLOW.MAX_UPLOAD_BYTES", "WORKFLOW_MAX_UPLOAD_BYTES"},
		{"WORKFLOW.SEARCH_RATE_PER_SECOND", "WORKFLOW_SEARCH_RATE_PER_SECOND"},
		{"WORKFLOW.SEARCH_BURST", "WORKFLOW_SEARCH_BURST"},
		{"WORKFLOW.SEARCH_CACHE_TTL_SECONDS", "WORKFLOW_SEARCH_CACHE_TTL_SECONDS"},
		// Sessions
		{"SESSIONS.TTL_MINUTES", "SESSIONS_TTL_MINUTES"},
		{"SESSIONS.MAX_SESSIONS", "SESSIONS_MAX_SESSIONS"},
		{"SESSIONS.JANITOR_INTERVAL_SECONDS", "SESSIONS_JANITOR_INTERVAL_SECONDS"},
		{"SESSIONS.CREATE_PER_MINUTE", "SESSIONS_CREATE_PER_MINUTE"},
		// WorkerPool config
		{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
		{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
		{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"backend_url", v.GetString("BACKEND.BASE_URL"),
		"redis_address", logger.MaskRedisAddress(v.GetString("REDIS.ADDRESS")),
		"auto_accept_threshold", v.GetFloat64("WORKFLOW.AUTO_ACCEPT_THRESHOLD"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("receipt API base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Backend.BaseURL); err != nil {
		return fmt.Errorf("invalid receipt API base URL: %w", err)
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("receipt API timeout must be positive")
	}

	if cfg.Redis.Address == "" {
		log.Info("Redis address not set, ticker search results will be cached in-process")
	} else if cfg.Redis.Password == "" && cfg.Redis.UseTLS {
		log.Warn("Redis password is not set, but TLS is enabled. Ensure this is correct for your Redis provider.")
	}

	if err := validateWorkflowConfig(&cfg.Workflow); err != nil {
		return err
	}

	if cfg.Sessions.TTLMinutes <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if cfg.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive")
	}
	if cfg.Sessions.JanitorIntervalSeconds <= 0 {
		return fmt.Errorf("session janitor interval must be positive")
	}

	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}
	if cfg.WorkerPool.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("worker pool shutdown timeout must be positive")
	}

	return nil
}

func validateWorkflowConfig(cfg *WorkflowConfig) error {
	if cfg.SearchDebounceMillis < 0 {
		return fmt.Errorf("search debounce must not be negative")
	}
	if cfg.MinSearchLength < 1 {
		return fmt.Errorf("minimum search length must be at least 1")
	}
	if cfg.AutoSearchLength < cfg.MinSearchLength {
		return fmt.Errorf("auto search length must not be below the minimum search length")
	}
	if cfg.AutoAcceptThreshold <= 0 || cfg.AutoAcceptThreshold > 1 {
		return fmt.Errorf("auto accept threshold must be in (0, 1], got %v", cfg.AutoAcceptThreshold)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if cfg.SearchRatePerSecond <= 0 {
		return fmt.Errorf("search rate must be positive")
	}
	if cfg.SearchBurst <= 0 {
		return fmt.Errorf("search burst must be positive")
	}
	if cfg.SearchCacheTTLSeconds < 0 {
		return fmt.Errorf("search cache TTL must not be negative")
	}
	return nil
}

// containsWildcard checks if the list of allowed origins contains the wildcard "*".
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
