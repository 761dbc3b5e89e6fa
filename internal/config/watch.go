package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Provider hands out the current configuration and accepts replacements
// from the watcher. Safe for concurrent use.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a provider holding cfg.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Get returns the active configuration.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

// Set replaces the active configuration.
func (p *Provider) Set(cfg *Config) {
	p.current.Store(cfg)
}

// Watch reloads the config file on change and passes each valid result to
// onChange until ctx ends. Invalid edits are logged and ignored. It is a no-op
// when no config file is in use.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	v, err := read(configPath)
	if err != nil {
		return err
	}

	if v.ConfigFileUsed() == "" {
		log.Debug().Msg("no config file in use, settings reload disabled")
		return nil
	}

	// viper cannot stop its file watcher, so changes after ctx ends are
	// dropped here.
	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			log.Debug().Str("file", e.Name).Msg("settings watcher stopped, change ignored")
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid settings change")
			return
		}

		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("settings reloaded")
		onChange(cfg)
	})
	v.WatchConfig()

	log.Debug().Str("file", v.ConfigFileUsed()).Msg("watching settings file")
	return nil
}
