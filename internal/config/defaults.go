package config

import "time"

// Default values shared by viper defaults and `config init`.
const (
	DefaultMaxPayloadSize    = 131072 // 128 kB
	DefaultHeartbeatInterval = 30 * time.Second
)

// defaultConnectionRateLimits is kept in viper's raw form so that a user
// supplied list replaces it instead of merging index by index.
var defaultConnectionRateLimits = []map[string]any{
	{"period": "1s", "rate": 6},
	{"period": "1m", "rate": 120},
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Info: InfoConfig{
			Name:        "nrelay",
			Description: "A nostr relay",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8008,
			TrustedProxies: []string{},
			AllowedOrigins: []string{},
		},
		Network: NetworkConfig{
			MaxPayloadSize:    DefaultMaxPayloadSize,
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
		Limits: LimitsConfig{
			Event: EventLimits{
				CreatedAt: CreatedAtLimits{
					MaxPositiveDelta: 900,
					MaxNegativeDelta: 0,
				},
			},
			Connection: ConnectionLimits{
				RateLimits: []RateLimit{
					{Period: time.Second, Rate: 6},
					{Period: time.Minute, Rate: 120},
				},
				IPWhitelist: []string{"::1", "127.0.0.1"},
			},
			Message: MessageLimits{
				Rate:  20,
				Burst: 40,
			},
			Client: ClientLimits{
				Subscription: SubscriptionLimits{
					MaxSubscriptions: 10,
					MaxFilters:       10,
				},
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "nrelay.db",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
