package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeoutSeconds is the default HTTP read timeout in seconds.
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default HTTP write timeout in seconds.
	DefaultWriteTimeoutSeconds = 30
	// DefaultShutdownTimeoutSeconds is the default shutdown timeout in seconds.
	DefaultShutdownTimeoutSeconds = 30

	// DefaultRetention is how long finished distribution items are kept.
	DefaultRetention = 72 * time.Hour
	// DefaultRemoteTimeout bounds one remote network delivery.
	DefaultRemoteTimeout = 30 * time.Second
)

type Config struct {
	Debug    bool           `yaml:"debug"` // controls log level and format
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Network  NetworkConfig  `yaml:"network"`
	Engine   EngineConfig   `yaml:"engine"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g., ":8075"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NetworkConfig identifies this installation on the syndication mesh.
type NetworkConfig struct {
	// Name is the locator other networks use to address content rooted here,
	// typically the network's canonical hostname.
	Name string `yaml:"name"`
	// InboundSecret verifies deliveries from peers that have no registered
	// connection secret yet.
	InboundSecret string        `yaml:"inbound_secret"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"` // default: 30s
}

// EngineConfig tunes the distribution worker and its maintenance loops.
type EngineConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`      // queue poll cadence, default: 15s
	BatchSize        int           `yaml:"batch_size"`         // max items claimed per poll, default: 10
	Retention        time.Duration `yaml:"retention"`          // finished-item retention, default: 72h
	StaleAfter       time.Duration `yaml:"stale_after"`        // started items older than this are reset, default: 10m
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`   // retention sweep cadence, default: 1h
	RecheckInterval  time.Duration `yaml:"recheck_interval"`   // date-driven condition recheck cadence, default: 12h
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`   // default: 30s
	ResolverCacheTTL time.Duration `yaml:"resolver_cache_ttl"` // remote resolution cache TTL, default: 10m
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
	BaseURL string `yaml:"base_url"` // link prefix for review emails
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8075"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Network.Name == "" {
		return errors.New("network.name is required")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %v", c.Engine.PollInterval)
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Notify.Enabled && c.Notify.APIKey == "" {
		return errors.New("notify.api_key is required when notify.enabled is true")
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8075"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "syndicate"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Network.RemoteTimeout == 0 {
		cfg.Network.RemoteTimeout = DefaultRemoteTimeout
	}
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = 15 * time.Second
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = 10
	}
	if cfg.Engine.Retention == 0 {
		cfg.Engine.Retention = DefaultRetention
	}
	if cfg.Engine.StaleAfter == 0 {
		cfg.Engine.StaleAfter = 10 * time.Minute
	}
	if cfg.Engine.CleanupInterval == 0 {
		cfg.Engine.CleanupInterval = time.Hour
	}
	if cfg.Engine.RecheckInterval == 0 {
		cfg.Engine.RecheckInterval = 12 * time.Hour
	}
	if cfg.Engine.ShutdownTimeout == 0 {
		cfg.Engine.ShutdownTimeout = DefaultShutdownTimeoutSeconds * time.Second
	}
	if cfg.Engine.ResolverCacheTTL == 0 {
		cfg.Engine.ResolverCacheTTL = 10 * time.Minute
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if networkName := os.Getenv("NETWORK_NAME"); networkName != "" {
		cfg.Network.Name = networkName
	}
	if inboundSecret := os.Getenv("INBOUND_SECRET"); inboundSecret != "" {
		cfg.Network.InboundSecret = inboundSecret
	}
	if apiKey := os.Getenv("RESEND_API_KEY"); apiKey != "" {
		cfg.Notify.APIKey = apiKey
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	if port := os.Getenv("SYNDICATE_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
