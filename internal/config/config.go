// Package config handles configuration management for nrelay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay.
type Config struct {
	Info     InfoConfig     `mapstructure:"info" yaml:"info"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// InfoConfig describes the relay in its information document.
type InfoConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Pubkey      string `mapstructure:"pubkey" yaml:"pubkey"`
	Contact     string `mapstructure:"contact" yaml:"contact"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	TrustedProxies []string `mapstructure:"trustedProxies" yaml:"trustedProxies"` // CIDRs or IPs allowed to set X-Forwarded-For
	AllowedOrigins []string `mapstructure:"allowedOrigins" yaml:"allowedOrigins"` // empty allows every origin
}

// NetworkConfig holds per-connection transport settings.
type NetworkConfig struct {
	MaxPayloadSize    int           `mapstructure:"maxPayloadSize" yaml:"maxPayloadSize"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" yaml:"heartbeatInterval"`

	// Deprecated: use MaxPayloadSize.
	LegacyMaxPayloadSize int `mapstructure:"max_payload_size" yaml:"-"`
}

// LimitsConfig holds event, connection and client limits.
type LimitsConfig struct {
	Event      EventLimits      `mapstructure:"event" yaml:"event"`
	Connection ConnectionLimits `mapstructure:"connection" yaml:"connection"`
	Message    MessageLimits    `mapstructure:"message" yaml:"message"`
	Client     ClientLimits     `mapstructure:"client" yaml:"client"`
}

// EventLimits bounds accepted events.
type EventLimits struct {
	CreatedAt CreatedAtLimits `mapstructure:"createdAt" yaml:"createdAt"`
}

// CreatedAtLimits is the temporal acceptance window in seconds. Zero disables a bound.
type CreatedAtLimits struct {
	MaxPositiveDelta int64 `mapstructure:"maxPositiveDelta" yaml:"maxPositiveDelta"`
	MaxNegativeDelta int64 `mapstructure:"maxNegativeDelta" yaml:"maxNegativeDelta"`
}

// ConnectionLimits controls admission of new connections.
type ConnectionLimits struct {
	RateLimits  []RateLimit `mapstructure:"rateLimits" yaml:"rateLimits"`
	IPWhitelist []string    `mapstructure:"ipWhitelist" yaml:"ipWhitelist"`
}

// RateLimit allows Rate actions per Period.
type RateLimit struct {
	Period time.Duration `mapstructure:"period" yaml:"period"`
	Rate   int           `mapstructure:"rate" yaml:"rate"`
}

// MessageLimits throttles inbound frames on a single connection. Rate 0 disables.
type MessageLimits struct {
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// ClientLimits bounds per-connection state.
type ClientLimits struct {
	Subscription SubscriptionLimits `mapstructure:"subscription" yaml:"subscription"`
}

// SubscriptionLimits bounds subscriptions held by one connection.
type SubscriptionLimits struct {
	MaxSubscriptions int `mapstructure:"maxSubscriptions" yaml:"maxSubscriptions"`
	MaxFilters       int `mapstructure:"maxFilters" yaml:"maxFilters"`
}

// DatabaseConfig selects the event store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// RedisConfig configures the shared rate-limit backend.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// read prepares a viper instance and reads the config file if one exists.
func read(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nrelay")
		v.AddConfigPath("/etc/nrelay")
	}

	v.SetEnvPrefix("NRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	postProcess(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("info.name", d.Info.Name)
	v.SetDefault("info.description", d.Info.Description)
	v.SetDefault("info.pubkey", d.Info.Pubkey)
	v.SetDefault("info.contact", d.Info.Contact)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.trustedProxies", d.Server.TrustedProxies)
	v.SetDefault("server.allowedOrigins", d.Server.AllowedOrigins)

	v.SetDefault("network.maxPayloadSize", d.Network.MaxPayloadSize)
	v.SetDefault("network.heartbeatInterval", d.Network.HeartbeatInterval)

	v.SetDefault("limits.event.createdAt.maxPositiveDelta", d.Limits.Event.CreatedAt.MaxPositiveDelta)
	v.SetDefault("limits.event.createdAt.maxNegativeDelta", d.Limits.Event.CreatedAt.MaxNegativeDelta)
	v.SetDefault("limits.connection.rateLimits", defaultConnectionRateLimits)
	v.SetDefault("limits.connection.ipWhitelist", d.Limits.Connection.IPWhitelist)
	v.SetDefault("limits.message.rate", d.Limits.Message.Rate)
	v.SetDefault("limits.message.burst", d.Limits.Message.Burst)
	v.SetDefault("limits.client.subscription.maxSubscriptions", d.Limits.Client.Subscription.MaxSubscriptions)
	v.SetDefault("limits.client.subscription.maxFilters", d.Limits.Client.Subscription.MaxFilters)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) {
	if cfg.Network.LegacyMaxPayloadSize > 0 {
		log.Warn().
			Int("max_payload_size", cfg.Network.LegacyMaxPayloadSize).
			Msg("setting network.max_payload_size is deprecated and will be removed in a future version, use network.maxPayloadSize instead")
		cfg.Network.MaxPayloadSize = cfg.Network.LegacyMaxPayloadSize
		cfg.Network.LegacyMaxPayloadSize = 0
	}
}

// GetConfigDir returns the user config directory for nrelay.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".nrelay"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
