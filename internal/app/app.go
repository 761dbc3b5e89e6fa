// Package app orchestrates all components of nrelay.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/handler"
	"github.com/brianly1003/nrelay/internal/metrics"
	"github.com/brianly1003/nrelay/internal/ratelimit"
	"github.com/brianly1003/nrelay/internal/relayinfo"
	"github.com/brianly1003/nrelay/internal/security"
	"github.com/brianly1003/nrelay/internal/server/websocket"
	"github.com/brianly1003/nrelay/internal/store"
	"github.com/brianly1003/nrelay/internal/strategy"
	"github.com/brianly1003/nrelay/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// rateStore is a ratelimit.Store owned by the app.
type rateStore interface {
	ratelimit.Store
	Close() error
}

// App is the main application struct that orchestrates all components.
type App struct {
	settings   *config.Provider
	configPath string
	version    string

	// Core components
	metrics    *metrics.Metrics
	store      *store.Store
	rates      rateStore
	server     *websocket.Server
	dispatcher *handler.Dispatcher

	startTime time.Time
	ready     chan struct{}

	// Lifecycle
	mu      sync.RWMutex
	running bool
	stopped bool
}

// New creates a new App instance. configPath is watched for changes once the
// relay is running; an empty path uses the default search locations.
func New(cfg *config.Config, configPath, version string) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	return &App{
		settings:   config.NewProvider(cfg),
		configPath: configPath,
		version:    version,
		ready:      make(chan struct{}),
	}, nil
}

// Start starts the relay and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.init(); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.closeResources()
		return err
	}

	if err := a.server.Start(); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.closeResources()
		return fmt.Errorf("failed to start relay server: %w", err)
	}

	if err := config.Watch(ctx, a.configPath, a.reload); err != nil {
		log.Warn().Err(err).Msg("settings reload disabled")
	}

	close(a.ready)
	a.printConnectionInfo()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	return a.shutdown()
}

// init builds every component from the current settings.
func (a *App) init() error {
	cfg := a.settings.Get()

	a.metrics = metrics.New()

	eventStore, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	a.store = eventStore

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.rates = ratelimit.NewRedisStore(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis for connection rate limits")
	} else {
		a.rates = ratelimit.NewMemoryStore()
	}

	gate := ratelimit.NewGate(a.rates, func() config.ConnectionLimits {
		return a.settings.Get().Limits.Connection
	})

	trusted, err := security.ParseNetworks(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	pipeline := validation.New(func() config.CreatedAtLimits {
		return a.settings.Get().Limits.Event.CreatedAt
	})

	// The strategies broadcast through the server, which is created after
	// the dispatcher it feeds frames to.
	broadcaster := &serverBroadcaster{}
	events := handler.NewEventHandler(pipeline, strategy.NewFactory(a.store, broadcaster), a.metrics)
	subscriptions := handler.NewSubscriptionHandler(a.store, func() config.SubscriptionLimits {
		return a.settings.Get().Limits.Client.Subscription
	})
	a.dispatcher = handler.NewDispatcher(events, subscriptions, a.metrics)

	a.server = websocket.NewServer(
		cfg.Server.Addr(),
		gate,
		func(ctx context.Context, c *websocket.Client, data []byte) {
			a.dispatcher.HandleFrame(ctx, c, data)
		},
		websocket.WithMaxPayloadSize(int64(cfg.Network.MaxPayloadSize)),
		websocket.WithHeartbeatInterval(cfg.Network.HeartbeatInterval),
		websocket.WithMessageLimit(cfg.Limits.Message.Rate, cfg.Limits.Message.Burst),
		websocket.WithTrustedProxies(trusted),
		websocket.WithOriginChecker(security.NewOriginChecker(cfg.Server.AllowedOrigins)),
		websocket.WithInfoHandler(relayinfo.Handler(a.settings.Get, a.version)),
		websocket.WithMetrics(a.metrics),
	)
	broadcaster.server = a.server

	a.metrics.RegisterConnectedClients(a.server.ConnectedCount)
	if cfg.Metrics.Enabled {
		a.server.Router().Handle("/metrics", a.metrics.Handler())
	}

	return nil
}

// reload swaps in settings read from a changed config file. Limits, window
// bounds and the info document pick them up on next use; listener and
// transport settings need a restart.
func (a *App) reload(cfg *config.Config) {
	a.mu.RLock()
	stopped := a.stopped
	a.mu.RUnlock()
	if stopped {
		log.Debug().Msg("relay stopped, settings change ignored")
		return
	}

	if changed := restartRequired(a.settings.Get(), cfg); len(changed) > 0 {
		log.Warn().Strs("settings", changed).Msg("changed settings apply after restart")
	}
	a.settings.Set(cfg)
}

// restartRequired lists the settings that differ between prev and next but
// are only read when the relay starts.
func restartRequired(prev, next *config.Config) []string {
	var changed []string
	if prev.Server.Addr() != next.Server.Addr() {
		changed = append(changed, "server.address")
	}
	if !slices.Equal(prev.Server.TrustedProxies, next.Server.TrustedProxies) {
		changed = append(changed, "server.trustedProxies")
	}
	if !slices.Equal(prev.Server.AllowedOrigins, next.Server.AllowedOrigins) {
		changed = append(changed, "server.allowedOrigins")
	}
	if prev.Network != next.Network {
		changed = append(changed, "network")
	}
	if prev.Limits.Message != next.Limits.Message {
		changed = append(changed, "limits.message")
	}
	if prev.Database != next.Database {
		changed = append(changed, "database")
	}
	if prev.Redis != next.Redis {
		changed = append(changed, "redis")
	}
	return changed
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	a.stopped = true

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if a.server != nil {
		if err = a.server.Shutdown(ctx, a.closeResources); err != nil {
			log.Error().Err(err).Msg("error stopping relay server")
		}
	} else {
		a.closeResources()
	}

	log.Info().Msg("relay stopped")
	return err
}

// closeResources releases the store and the rate-limit backend.
func (a *App) closeResources() {
	if a.rates != nil {
		if err := a.rates.Close(); err != nil {
			log.Error().Err(err).Msg("error closing rate-limit store")
		}
		a.rates = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing event store")
		}
		a.store = nil
	}
}

// printConnectionInfo prints connection information to the console.
func (a *App) printConnectionInfo() {
	cfg := a.settings.Get()
	wsURL := "ws://" + a.server.Addr()

	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     nrelay ready                           ║")
	fmt.Println("╠════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Name:       %-46s ║\n", truncateString(cfg.Info.Name, 46))
	fmt.Printf("║  WebSocket:  %-46s ║\n", truncateString(wsURL, 46))
	fmt.Printf("║  Database:   %-46s ║\n", truncateString(cfg.Database.Driver, 46))
	if cfg.Metrics.Enabled {
		fmt.Printf("║  Metrics:    %-46s ║\n", truncateString("http://"+a.server.Addr()+"/metrics", 46))
	}
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// Ready is closed once the relay is accepting connections.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the address the relay is listening on.
func (a *App) Addr() string {
	if a.server == nil {
		return a.settings.Get().Server.Addr()
	}
	return a.server.Addr()
}

// GetConfig returns the active configuration.
func (a *App) GetConfig() *config.Config {
	return a.settings.Get()
}

// UptimeSeconds returns how long the app has been running.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
