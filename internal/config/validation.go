package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateNetwork(&cfg.Network); err != nil {
		return err
	}

	if err := validateLimits(&cfg.Limits); err != nil {
		return err
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return err
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level is not a valid level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be console or json")
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}

	for _, proxy := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(proxy)
		if trimmed == "" {
			return fmt.Errorf("server.trustedProxies contains an empty value")
		}

		if net.ParseIP(trimmed) != nil {
			continue
		}

		if _, _, err := net.ParseCIDR(trimmed); err != nil {
			return fmt.Errorf("server.trustedProxies has invalid CIDR/IP value: %s", trimmed)
		}
	}

	return nil
}

func validateNetwork(cfg *NetworkConfig) error {
	if cfg.MaxPayloadSize < 1 {
		return fmt.Errorf("network.maxPayloadSize must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("network.heartbeatInterval must be positive")
	}
	return nil
}

func validateLimits(cfg *LimitsConfig) error {
	if cfg.Event.CreatedAt.MaxPositiveDelta < 0 {
		return fmt.Errorf("limits.event.createdAt.maxPositiveDelta cannot be negative")
	}
	if cfg.Event.CreatedAt.MaxNegativeDelta < 0 {
		return fmt.Errorf("limits.event.createdAt.maxNegativeDelta cannot be negative")
	}

	for i, limit := range cfg.Connection.RateLimits {
		if limit.Period <= 0 {
			return fmt.Errorf("limits.connection.rateLimits[%d].period must be positive", i)
		}
		if limit.Rate < 1 {
			return fmt.Errorf("limits.connection.rateLimits[%d].rate must be at least 1", i)
		}
	}

	for _, ip := range cfg.Connection.IPWhitelist {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			return fmt.Errorf("limits.connection.ipWhitelist has invalid IP value: %s", ip)
		}
	}

	if cfg.Message.Rate < 0 {
		return fmt.Errorf("limits.message.rate cannot be negative")
	}
	if cfg.Message.Rate > 0 && cfg.Message.Burst < 1 {
		return fmt.Errorf("limits.message.burst must be at least 1 when limits.message.rate is set")
	}

	if cfg.Client.Subscription.MaxSubscriptions < 1 {
		return fmt.Errorf("limits.client.subscription.maxSubscriptions must be at least 1")
	}
	if cfg.Client.Subscription.MaxFilters < 1 {
		return fmt.Errorf("limits.client.subscription.maxFilters must be at least 1")
	}

	return nil
}

func validateDatabase(cfg *DatabaseConfig) error {
	switch cfg.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return fmt.Errorf("database.dsn cannot be empty")
	}
	return nil
}
